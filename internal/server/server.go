package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"skillswap/internal/domain"
	"skillswap/internal/engine"
	"skillswap/internal/metrics"
	"skillswap/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Metrics  *metrics.Manager
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"cannot accept a completed swap"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"status\":\"completed\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the skill swap API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	m := cfg.Metrics
	if m == nil {
		m = cfg.Engine.Metrics
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
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
	router.Use(middleware.Recoverer)
	router.Use(metricsMiddleware(m))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Skillswap API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	router.Handle("/metrics", m.Handler())
	registerHealth(group)
	registerMe(group)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	registerSkills(group, cfg.Engine)
	registerSwaps(group, cfg.Engine)
	registerFeedback(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

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

var kindStatus = map[engine.Kind]int{
	engine.KindInvalidParticipants:  http.StatusBadRequest,
	engine.KindValidation:           http.StatusBadRequest,
	engine.KindUserNotFound:         http.StatusNotFound,
	engine.KindSkillNotFound:        http.StatusNotFound,
	engine.KindNotFound:             http.StatusNotFound,
	engine.KindForbidden:            http.StatusForbidden,
	engine.KindUserUnavailable:      http.StatusConflict,
	engine.KindDuplicateNegotiation: http.StatusConflict,
	engine.KindInvalidTransition:    http.StatusConflict,
	engine.KindDuplicateFeedback:    http.StatusConflict,
	engine.KindSkillMismatch:        http.StatusUnprocessableEntity,
	engine.KindFeedbackNotAllowed:   http.StatusUnprocessableEntity,
}

// handleError maps engine kinds to statuses. Anything else is a 500 with no
// internal detail.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		status, ok := kindStatus[ee.Kind]
		if !ok {
			status = http.StatusBadRequest
		}
		return newAPIError(status, string(ee.Kind), ee.Error(), ee.Details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "not found", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// unmatchedRoute labels requests that matched no route.
const unmatchedRoute = "unmatched"

func metricsMiddleware(m *metrics.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := unmatchedRoute
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordHTTPRequest(r.Method, route, status, time.Since(start))
		})
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var doc []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if doc == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if open[route] {
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
    <title>Skillswap API Docs</title>
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

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok || p.UserID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{UserID: p.UserID, Source: p.Source}}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		userID := strings.TrimSpace(input.Body.UserID)
		if userID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		if _, err := e.Repo.GetUser(ctx, userID); err != nil {
			return nil, handleError(err)
		}
		token, err := signDevToken(authCfg.JWTSecret, userID, time.Now())
		if err != nil {
			authCfg.logger().Error("sign dev token", zap.Error(err))
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func registerSkills(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-skills",
		Method:      http.MethodGet,
		Path:        "/skills",
		Summary:     "List catalog skills",
	}, func(ctx context.Context, input *struct {
		Category   string `query:"category"`
		ActiveOnly bool   `query:"active_only" default:"true"`
	}) (*struct {
		Body skillList `json:"body"`
	}, error) {
		if input.Category != "" && !domain.SkillCategory(input.Category).Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown category", map[string]any{"category": input.Category})
		}
		items, err := e.Repo.ListSkills(ctx, input.Category, input.ActiveOnly)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body skillList `json:"body"`
		}{Body: skillList{Items: nonNilSlice(items)}}, nil
	})
}

type swapOutput struct {
	Body domain.Swap `json:"body"`
}

func registerSwaps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-swap",
		Method:        http.MethodPost,
		Path:          "/swaps",
		Summary:       "Propose a swap to another user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateSwapRequest `json:"body"`
	}) (*swapOutput, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateNegotiation(ctx, engine.CreateNegotiationInput{
			RequesterID:      actor,
			ResponderID:      input.Body.ResponderID,
			OfferedSkillID:   input.Body.OfferedSkillID,
			RequestedSkillID: input.Body.RequestedSkillID,
			Message:          input.Body.Message,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &swapOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-swap",
		Method:      http.MethodGet,
		Path:        "/swaps/{swap_id}",
		Summary:     "Get a swap you are party to",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SwapID string `path:"swap_id"`
	}) (*swapOutput, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.GetSwap(ctx, input.SwapID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &swapOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-swap",
		Method:      http.MethodPost,
		Path:        "/swaps/{swap_id}/transition",
		Summary:     "Accept, reject, cancel or complete a swap",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SwapID string            `path:"swap_id"`
		Body   TransitionRequest `json:"body"`
	}) (*swapOutput, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.Transition(ctx, input.SwapID, actor, domain.Action(input.Body.Action), input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &swapOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-swap",
		Method:      http.MethodDelete,
		Path:        "/swaps/{swap_id}",
		Summary:     "Withdraw a pending swap you requested",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SwapID string `path:"swap_id"`
	}) (*swapOutput, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.DeleteNegotiation(ctx, input.SwapID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &swapOutput{Body: s}, nil
	})
}

func registerFeedback(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-feedback",
		Method:        http.MethodPost,
		Path:          "/swaps/{swap_id}/feedback",
		Summary:       "Rate the other party of a completed swap",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SwapID string                `path:"swap_id"`
		Body   SubmitFeedbackRequest `json:"body"`
	}) (*struct {
		Body domain.Feedback `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		public := true
		if input.Body.IsPublic != nil {
			public = *input.Body.IsPublic
		}
		fb, err := e.SubmitFeedback(ctx, engine.SubmitFeedbackInput{
			SwapID:     input.SwapID,
			FromUserID: actor,
			ToUserID:   input.Body.ToUserID,
			Rating:     input.Body.Rating,
			Comment:    input.Body.Comment,
			IsPublic:   public,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Feedback `json:"body"`
		}{Body: fb}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-user-swaps",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/swaps",
		Summary:     "List your swaps, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		Status string `query:"status"`
		Page   int    `query:"page" default:"1" minimum:"1"`
		Limit  int    `query:"limit" minimum:"0"`
	}) (*struct {
		Body domain.SwapPage `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor != input.UserID {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "swaps are only listed for their parties", nil)
		}
		page, err := e.GetUserSwaps(ctx, input.UserID, domain.SwapStatus(input.Status), input.Page, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		page.Items = nonNilSlice(page.Items)
		return &struct {
			Body domain.SwapPage `json:"body"`
		}{Body: page}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-reputation",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/reputation",
		Summary:     "Running average rating of a user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body ReputationResponse `json:"body"`
	}, error) {
		rep, err := e.GetReputation(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReputationResponse `json:"body"`
		}{Body: ReputationResponse{UserID: input.UserID, AverageRating: rep.AverageRating, TotalRatings: rep.TotalRatings}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-feedback-stats",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/feedback/stats",
		Summary:     "Ratings given and received by a user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body domain.FeedbackStats `json:"body"`
	}, error) {
		stats, err := e.GetStats(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FeedbackStats `json:"body"`
		}{Body: stats}, nil
	})
}

// registerEvents lists audit entries recorded for the caller's own actions.
func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List your recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type     string `query:"type"`
		EntityID string `query:"entity_id"`
		Limit    int    `query:"limit" default:"50" minimum:"1"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		limit := input.Limit
		if e.Config != nil && limit > e.Config.Listing.MaxLimit {
			limit = e.Config.Listing.MaxLimit
		}
		items, err := e.ListEvents(ctx, repo.EventFilter{
			Type:     input.Type,
			EntityID: input.EntityID,
			ActorID:  actor,
			AfterID:  cursorID,
			Limit:    limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > 0 && len(items) == limit {
			resp.NextCursor = strconv.FormatInt(items[len(items)-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
