package rest

// ResponseData is the uniform envelope every endpoint returns.
type ResponseData struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}

// PanicIfNeeded lets handlers bubble typed errors to the recovery middleware
// instead of repeating status mapping in every endpoint.
func PanicIfNeeded(err error) {
	if err != nil {
		panic(err)
	}
}
