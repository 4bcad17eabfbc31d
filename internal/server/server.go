package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"pactline/internal/domain"
	"pactline/internal/engine"
	"pactline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"cannot accept promise in status draft"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Pactline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope shape.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Pactline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPromises(group, cfg.Engine)
	registerTransitions(group, cfg.Engine)
	registerParticipants(group, cfg.Engine)
	registerConditions(group, cfg.Engine)
	registerEvidences(group, cfg.Engine)
	registerReceipts(group, cfg.Engine)
	registerShare(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ite engine.InvalidTransitionError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"status": ite.Status,
			"op":     ite.Op,
		})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "invalid_transition"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		"/" + strings.TrimPrefix(path.Join(basePath, "health"), "/"):         true,
		"/" + strings.TrimPrefix(path.Join(basePath, "auth/dev/login"), "/"): true,
		"/" + strings.TrimPrefix(path.Join(basePath, "share/{code}"), "/"):   true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Pactline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerPromises(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-promise",
		Method:        http.MethodPost,
		Path:          "/promises",
		Summary:       "Create promise",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreatePromiseRequest `json:"body"`
	}) (*struct {
		Body PromiseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Create(ctx, createOptions(input.Body, actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PromiseResponse `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-promises",
		Method:      http.MethodGet,
		Path:        "/promises",
		Summary:     "List the caller's promises",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []PromiseResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.List(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PromiseResponse `json:"body"`
		}{Body: nonNilPromises(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-promise",
		Method:      http.MethodGet,
		Path:        "/promises/{promise_id}",
		Summary:     "Get promise",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		PromiseID string `path:"promise_id"`
	}) (*struct {
		Body PromiseResponse `json:"body"`
	}, error) {
		p, err := e.Get(ctx, input.PromiseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PromiseResponse `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-promise",
		Method:        http.MethodDelete,
		Path:          "/promises/{promise_id}",
		Summary:       "Soft-delete promise",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		PromiseID string `path:"promise_id"`
	}) (*struct{}, error) {
		if err := e.Delete(ctx, input.PromiseID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

var transitionErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func registerTransitions(api huma.API, e engine.Engine) {
	type promisePath struct {
		PromiseID string `path:"promise_id"`
	}
	type promiseOut struct {
		Body PromiseResponse `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "send-promise",
		Method:      http.MethodPost,
		Path:        "/promises/{promise_id}/send",
		Summary:     "Propose a draft promise",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *promisePath) (*promiseOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Send(ctx, input.PromiseID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &promiseOut{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-promise",
		Method:      http.MethodPost,
		Path:        "/promises/{promise_id}/accept",
		Summary:     "Activate a proposed promise",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *promisePath) (*promiseOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Accept(ctx, input.PromiseID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &promiseOut{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-promise",
		Method:      http.MethodPost,
		Path:        "/promises/{promise_id}/cancel",
		Summary:     "Cancel a promise",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		PromiseID string        `path:"promise_id"`
		Body      ReasonRequest `json:"body,omitempty" required:"false"`
	}) (*promiseOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Cancel(ctx, input.PromiseID, strOrEmpty(input.Body.Reason), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &promiseOut{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fulfill-promise",
		Method:      http.MethodPost,
		Path:        "/promises/{promise_id}/fulfill",
		Summary:     "Mark an active promise kept",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *promisePath) (*promiseOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Fulfill(ctx, input.PromiseID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &promiseOut{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "breach-promise",
		Method:      http.MethodPost,
		Path:        "/promises/{promise_id}/breach",
		Summary:     "Declare an active promise broken",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		PromiseID string        `path:"promise_id"`
		Body      ReasonRequest `json:"body,omitempty" required:"false"`
	}) (*promiseOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.DeclareBreach(ctx, input.PromiseID, strOrEmpty(input.Body.Reason), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &promiseOut{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "publish-promise",
		Method:      http.MethodPost,
		Path:        "/promises/{promise_id}/publish",
		Summary:     "Publish a draft declaration or oath",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *promisePath) (*promiseOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Publish(ctx, input.PromiseID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &promiseOut{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "settle-promise",
		Method:      http.MethodPost,
		Path:        "/promises/{promise_id}/settle",
		Summary:     "Settle an active promise in favor of a participant",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		PromiseID string        `path:"promise_id"`
		Body      SettleRequest `json:"body"`
	}) (*promiseOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Settle(ctx, input.PromiseID, input.Body.WinnerUserID, strOrEmpty(input.Body.Note), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &promiseOut{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "extend-promise",
		Method:      http.MethodPost,
		Path:        "/promises/{promise_id}/extend",
		Summary:     "Push the due time forward",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		PromiseID string        `path:"promise_id"`
		Body      ExtendRequest `json:"body"`
	}) (*promiseOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Extend(ctx, input.PromiseID, input.Body.Minutes, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &promiseOut{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "coin-flip",
		Method:      http.MethodPost,
		Path:        "/promises/{promise_id}/coin-flip",
		Summary:     "Record a fair coin flip",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *promisePath) (*struct {
		Body CoinFlipResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		result, err := e.CoinFlip(ctx, input.PromiseID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CoinFlipResponse `json:"body"`
		}{Body: CoinFlipResponse{Result: result}}, nil
	})
}

func registerParticipants(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "accept-participant",
		Method:      http.MethodPost,
		Path:        "/promises/{promise_id}/participants/accept",
		Summary:     "Record the caller's acceptance",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		PromiseID string                   `path:"promise_id"`
		Body      AcceptParticipantRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body PromiseResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.AcceptParticipant(ctx, input.PromiseID, actorID, signatureFromRequest(input.Body.Signature))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PromiseResponse `json:"body"`
		}{Body: p}, nil
	})
}

func registerConditions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "mark-condition-met",
		Method:      http.MethodPost,
		Path:        "/promises/{promise_id}/conditions/{condition_id}/met",
		Summary:     "Mark a condition satisfied",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		PromiseID   string `path:"promise_id"`
		ConditionID string `path:"condition_id"`
	}) (*struct {
		Body PromiseResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.MarkConditionMet(ctx, input.PromiseID, input.ConditionID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PromiseResponse `json:"body"`
		}{Body: p}, nil
	})
}

func registerEvidences(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-evidence",
		Method:        http.MethodPost,
		Path:          "/promises/{promise_id}/evidences",
		Summary:       "Attach evidence",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		PromiseID string             `path:"promise_id"`
		Body      AddEvidenceRequest `json:"body"`
	}) (*struct {
		Body domain.Evidence `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.AddEvidence(ctx, input.PromiseID, evidenceOptions(input.Body, actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Evidence `json:"body"`
		}{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-evidence",
		Method:        http.MethodDelete,
		Path:          "/promises/{promise_id}/evidences/{evidence_id}",
		Summary:       "Detach evidence",
		DefaultStatus: http.StatusNoContent,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		PromiseID  string `path:"promise_id"`
		EvidenceID string `path:"evidence_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveEvidence(ctx, input.PromiseID, input.EvidenceID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerReceipts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-receipts",
		Method:      http.MethodGet,
		Path:        "/promises/{promise_id}/receipts",
		Summary:     "List receipts, oldest first",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		PromiseID string `path:"promise_id"`
	}) (*struct {
		Body []domain.Receipt `json:"body"`
	}, error) {
		items, err := e.ListReceipts(ctx, input.PromiseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Receipt `json:"body"`
		}{Body: nonNilReceipts(items)}, nil
	})
}

func registerShare(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-shared-promise",
		Method:      http.MethodGet,
		Path:        "/share/{code}",
		Summary:     "Read a promise by its share link (public)",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Code string `path:"code"`
	}) (*struct {
		Body PromiseResponse `json:"body"`
	}, error) {
		p, err := e.GetByShareCode(ctx, input.Code)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PromiseResponse `json:"body"`
		}{Body: p}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{ActorID: principal.ActorID, Source: principal.Source}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if !authCfg.DevLogin {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev login disabled", nil)
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
