package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sinktab/sinktab/internal/sinkcdp"
)

func registerDeviceHandlers(api huma.API, svc Service) {
	type tabIDInput struct {
		TabID string `path:"tab_id"`
	}

	type deviceListOutput struct {
		Body sinkcdp.DeviceList
	}

	huma.Register(api, huma.Operation{OperationID: "list-devices", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/devices", Summary: "Enumerate media devices visible to a tab", Tags: []string{"Devices"}},
		func(ctx context.Context, input *tabIDInput) (*deviceListOutput, error) {
			devs, err := svc.Devices(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &deviceListOutput{}
			out.Body = devs
			return out, nil
		})

	type selectOutput struct {
		Body sinkcdp.SinkTarget
	}

	huma.Register(api, huma.Operation{OperationID: "select-device", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/select", Summary: "Route a tab's audio to an output device", Tags: []string{"Devices"}},
		func(ctx context.Context, input *struct {
			TabID string `path:"tab_id"`
			Body  struct {
				Label  string `json:"label,omitempty" doc:"Output device label; empty goes straight to the picker"`
				ID     string `json:"id,omitempty" doc:"Raw device id hint from a previous enumeration"`
				Manual bool   `json:"manual,omitempty" doc:"Mark as manual override, suppressing rule-driven routing for this tab"`
			}
		}) (*selectOutput, error) {
			target, err := svc.SelectDevice(ctx, input.TabID, input.Body.Label, input.Body.ID, input.Body.Manual)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &selectOutput{}
			out.Body = *target
			return out, nil
		})
}
