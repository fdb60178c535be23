package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sinktab/sinktab/internal/rules"
)

func registerRuleHandlers(api huma.API, svc Service) {
	type ruleListOutput struct {
		Body struct {
			Rules []rules.Rule `json:"rules"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "list-rules", Method: http.MethodGet, Path: "/api/v1/rules", Summary: "List routing rules in evaluation order", Tags: []string{"Rules"}},
		func(ctx context.Context, input *struct{}) (*ruleListOutput, error) {
			out := &ruleListOutput{}
			out.Body.Rules = svc.Rules()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "replace-rules", Method: http.MethodPut, Path: "/api/v1/rules", Summary: "Replace the whole rule list, order included", Tags: []string{"Rules"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Rules []rules.Rule `json:"rules" required:"true"`
			}
		}) (*ruleListOutput, error) {
			if err := svc.ReplaceRules(input.Body.Rules); err != nil {
				return nil, mapErr(err)
			}
			out := &ruleListOutput{}
			out.Body.Rules = svc.Rules()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "upsert-rule", Method: http.MethodPost, Path: "/api/v1/rules", Summary: "Add a rule or replace the one with the same pattern", Tags: []string{"Rules"}},
		func(ctx context.Context, input *struct {
			Body rules.Rule
		}) (*ruleListOutput, error) {
			if err := svc.UpsertRule(input.Body); err != nil {
				return nil, mapErr(err)
			}
			out := &ruleListOutput{}
			out.Body.Rules = svc.Rules()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "delete-rule", Method: http.MethodDelete, Path: "/api/v1/rules", Summary: "Delete the rule with the given pattern", Tags: []string{"Rules"}},
		func(ctx context.Context, input *struct {
			Pattern string `query:"pattern" required:"true" doc:"Exact pattern of the rule to delete"`
		}) (*struct{}, error) {
			if err := svc.DeleteRule(input.Pattern); err != nil {
				return nil, mapErr(err)
			}
			return nil, nil
		})

	type settingsOutput struct {
		Body rules.Settings
	}

	huma.Register(api, huma.Operation{OperationID: "get-settings", Method: http.MethodGet, Path: "/api/v1/settings", Summary: "Get routing settings", Tags: []string{"Rules"}},
		func(ctx context.Context, input *struct{}) (*settingsOutput, error) {
			out := &settingsOutput{}
			out.Body = svc.Settings()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "update-settings", Method: http.MethodPut, Path: "/api/v1/settings", Summary: "Update routing settings", Tags: []string{"Rules"}},
		func(ctx context.Context, input *struct {
			Body rules.Settings
		}) (*settingsOutput, error) {
			if err := svc.UpdateSettings(input.Body); err != nil {
				return nil, mapErr(err)
			}
			out := &settingsOutput{}
			out.Body = svc.Settings()
			return out, nil
		})
}
