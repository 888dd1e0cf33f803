package roomhandler

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

type ListRoomsQuery struct {
	Limit  int `form:"limit,default=10"  binding:"gte=0,lte=100"`
	Offset int `form:"offset,default=0"  binding:"gte=0"`
} // @name ListRoomsQuery

type ActivityQuery struct {
	Limit int `form:"limit,default=20" binding:"gte=1,lte=200"`
} // @name ActivityQuery
