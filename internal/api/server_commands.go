package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sinktab/sinktab/internal/router"
)

func registerCommandHandlers(api huma.API, svc Service) {
	type commandOutput struct {
		Body router.CommandResult
	}

	huma.Register(api, huma.Operation{OperationID: "run-command", Method: http.MethodPost, Path: "/api/v1/commands/{command}", Summary: "Run a named command", Description: "Commands: select-audio-device, meet-switch-tab, meet-join, meet-toggle-microphone, meet-toggle-camera.", Tags: []string{"Commands"}},
		func(ctx context.Context, input *struct {
			Command string `path:"command"`
			Body    struct {
				TabID string `json:"tab_id,omitempty" doc:"Target tab; required for select-audio-device, ignored by meet commands"`
			}
		}) (*commandOutput, error) {
			res, err := svc.Dispatch(ctx, input.Command, input.Body.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &commandOutput{}
			out.Body = *res
			return out, nil
		})
}
