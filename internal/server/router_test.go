package server

import (
	"bytes"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterSetsRequestID(t *testing.T) {
	app := newTestApp(t, 5080)
	var seen string
	app.Get("/ping", func(c fiber.Ctx) error {
		seen = RequestID(c)
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 status, got %d", resp.StatusCode)
	}
	reqID := resp.Header.Get("X-Request-ID")
	if reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if seen != reqID {
		t.Fatalf("handler 中的请求 ID 应与响应头一致: %s vs %s", seen, reqID)
	}
}

func TestRouterRendersErrorsAsJSON(t *testing.T) {
	app := newTestApp(t, 5080)
	app.Get("/boom", func(c fiber.Ctx) error {
		return errors.New("kaboom")
	})
	app.Get("/teapot", func(c fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTeapot, "short and stout")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"kaboom"`)) {
		t.Fatalf("expected error body, got %s", string(body))
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/teapot", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTeapot {
		t.Fatalf("expected 418 status, got %d", resp.StatusCode)
	}
}

func TestRouterRecoversFromPanic(t *testing.T) {
	app := newTestApp(t, 5080)
	app.Get("/panic", func(c fiber.Ctx) error {
		panic("unexpected")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/panic", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("panic 应被恢复为 500，得到 %d", resp.StatusCode)
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	if _, err := NewApp(AppOptions{ListenPort: 5080}); err == nil {
		t.Fatalf("缺少 logger 应报错")
	}
	if _, err := NewApp(AppOptions{Logger: logrus.New()}); err == nil {
		t.Fatalf("非法端口应报错")
	}
}

func newTestApp(t *testing.T, port int) *fiber.App {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := NewApp(AppOptions{
		Logger:     logger,
		ListenPort: port,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app
}
