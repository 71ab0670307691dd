package health

import (
	"net/http"

	"github.com/go-chi/render"
)

const (
	statusOK          = "ok"
	statusUnavailable = "unavailable"
)

type statusResponse struct {
	HTTPStatusCode int               `json:"-"`
	Status         string            `json:"status"`
	Checks         map[string]string `json:"checks,omitempty"`
}

func (resp *statusResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, resp.HTTPStatusCode)
	return nil
}
