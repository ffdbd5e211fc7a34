package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestGetLimit(t *testing.T) {
	e := echo.New()

	cases := map[string]int{
		"/":           50,
		"/?limit=abc": 50,
		"/?limit=-1":  50,
		"/?limit=20":  20,
		"/?limit=500": 100,
	}
	for target, want := range cases {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
		assert.Equal(t, want, GetLimit(c, 50, 100), target)
	}
}
