package redis_functions

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

//go:embed *.lua
var fs embed.FS

// libraryName reads the name from the "#!lua name=<lib>" shebang.
func libraryName(code []byte) string {
	first, _, _ := strings.Cut(string(code), "\n")
	_, name, ok := strings.Cut(first, "name=")
	if !ok || !strings.HasPrefix(first, "#!lua") {
		return ""
	}
	name, _, _ = strings.Cut(name, " ")
	return strings.TrimSpace(name)
}

// LoadAll finds every embedded Lua library and loads/replaces it in Redis.
func LoadAll(ctx context.Context, rdb redis.Cmdable) error {
	files, err := fs.ReadDir(".")
	if err != nil {
		return fmt.Errorf("read embed dir: %w", err)
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".lua") {
			continue
		}

		code, err := fs.ReadFile(f.Name())
		if err != nil {
			return err
		}
		lib, err := rdb.FunctionLoadReplace(ctx, string(code)).Result()
		if err != nil {
			return fmt.Errorf("load lua %s: %w", f.Name(), err)
		}
		if want := libraryName(code); want != "" && lib != want {
			return fmt.Errorf("load lua %s: redis reported library %q, file declares %q", f.Name(), lib, want)
		}
		zap.L().Info("redis_functions.loaded", zap.String("library", lib), zap.String("file", f.Name()))
	}
	return nil
}
