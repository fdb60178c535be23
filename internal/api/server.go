// Package api exposes the routing agent's control surface over HTTP.
// This is the boundary the options UI and keyboard-shortcut tooling
// talk to; errors cross it as coded statuses, never as stack traces.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sinktab/sinktab/internal/router"
	"github.com/sinktab/sinktab/internal/rules"
	"github.com/sinktab/sinktab/internal/sinkcdp"
)

type Service interface {
	Tabs(ctx context.Context) ([]router.TabStatus, error)
	Devices(ctx context.Context, tabID string) (sinkcdp.DeviceList, error)
	SelectDevice(ctx context.Context, tabID, label, id string, saveAsManual bool) (*sinkcdp.SinkTarget, error)
	ResetManual(tabID string)
	Dispatch(ctx context.Context, command, tabID string) (*router.CommandResult, error)
	Rules() []rules.Rule
	ReplaceRules(list []rules.Rule) error
	UpsertRule(rule rules.Rule) error
	DeleteRule(pattern string) error
	Settings() rules.Settings
	UpdateSettings(set rules.Settings) error
}

func NewServer(svc Service) http.Handler {
	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(requestLogger)
	mux.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("sinktab API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(mux, cfg)

	mux.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	registerTabHandlers(api, svc)
	registerDeviceHandlers(api, svc)
	registerRuleHandlers(api, svc)
	registerCommandHandlers(api, svc)

	return mux
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *sinkcdp.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case sinkcdp.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case sinkcdp.CodeTabNotFound, sinkcdp.CodeTabGone, sinkcdp.CodeDeviceNotFound:
			return huma.Error404NotFound(coded.Message)
		case sinkcdp.CodePermissionDenied:
			return huma.Error403Forbidden(coded.Message)
		case sinkcdp.CodeEvalTimeout, sinkcdp.CodePickerTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case sinkcdp.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
