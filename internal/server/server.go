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
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"bayline/internal/domain"
	"bayline/internal/engine"
	"bayline/internal/engine/auth"
	"bayline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"slot_unavailable"`
	Message string         `json:"message" example:"bay bay-1 has no free slot 2026-03-02 09:00-10:00"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"bay_id\":\"bay-1\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Bayline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
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
	hcfg := huma.DefaultConfig("Bayline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerCompanies(group, cfg.Engine)
	registerBays(group, cfg.Engine)
	registerSuppliers(group, cfg.Engine)
	registerWorkOrders(group, cfg.Engine)
	registerTransitions(group, cfg.Engine)
	registerFanOut(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerRBAC(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Engine, cfg.Auth)
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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var le engine.LockedWorkOrderError
	if errors.As(err, &le) {
		return newAPIError(http.StatusConflict, "workorder_locked", err.Error(), map[string]any{"status": le.Status})
	}
	var se engine.SlotUnavailableError
	if errors.As(err, &se) {
		return newAPIError(http.StatusConflict, "slot_unavailable", err.Error(), map[string]any{
			"bay_id":       se.BayID,
			"booking_date": se.BookingDate,
			"start_time":   se.StartTime,
			"end_time":     se.EndTime,
		})
	}
	var te engine.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"from":  te.From,
			"event": te.Event,
		})
	}
	var ace engine.ApprovalConflictError
	if errors.As(err, &ace) {
		return newAPIError(http.StatusConflict, "approval_conflict", err.Error(), map[string]any{"approved_supplier": ace.ApprovedSupplier})
	}
	var ue engine.UnknownSupplierError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusNotFound, "unknown_supplier", err.Error(), map[string]any{"supplier_id": ue.SupplierID})
	}
	if errors.Is(err, engine.ErrNoResponse) {
		return newAPIError(http.StatusUnprocessableEntity, "no_response", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "outside bay hours"),
		strings.Contains(lowered, "closed on"),
		strings.Contains(lowered, "inactive"):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must"):
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

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

func requirePermission(ctx context.Context, e engine.Engine, companyID, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Auth.ActorHasPermission(ctx, tx, companyID, principal.ActorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: perm}
	}
	return nil
}

func requireGlobalPermission(ctx context.Context, e engine.Engine, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	if e.Config == nil {
		return auth.ForbiddenError{Permission: perm}
	}
	return requirePermission(ctx, e, e.Config.Company.ID, perm)
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
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
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
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
    <title>Bayline API Docs</title>
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

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "company-status",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/status",
		Summary:     "Company status",
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, defaultCompany(e))
		if err := requirePermission(ctx, e, companyID, "workorder.read"); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.GetCompany(ctx, companyID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountWorkOrdersByStatus(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"company_id":        c.ID,
			"status":            c.Status,
			"work_order_counts": counts,
		}}, nil
	})
}

func registerCompanies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-company",
		Method:        http.MethodPost,
		Path:          "/companies",
		Summary:       "Create company",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCompanyRequest `json:"body"`
	}) (*struct {
		Body CompanyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		if err := requireGlobalPermission(ctx, e, "company.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.InitCompany(ctx, input.Body.ID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompanyResponse `json:"body"`
		}{Body: companyResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-companies",
		Method:      http.MethodGet,
		Path:        "/companies",
		Summary:     "List companies",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []CompanyResponse `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, "workorder.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListCompanies(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]CompanyResponse, 0, len(items))
		for _, c := range items {
			res = append(res, companyResponse(c))
		}
		return &struct {
			Body []CompanyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-company",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}",
		Summary:     "Get company",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct {
		Body CompanyResponse `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, defaultCompany(e))
		if err := requirePermission(ctx, e, companyID, "workorder.read"); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.GetCompany(ctx, companyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompanyResponse `json:"body"`
		}{Body: companyResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-company-config",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/config",
		Summary:     "Get company config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct {
		Body CompanyConfigResponse `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, defaultCompany(e))
		if err := requirePermission(ctx, e, companyID, "company.manage"); err != nil {
			return nil, handleError(err)
		}
		cfg, err := e.Repo.GetCompanyConfig(ctx, companyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompanyConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})
}

func registerBays(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-bay",
		Method:        http.MethodPost,
		Path:          "/companies/{company_id}/bays",
		Summary:       "Create bay",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string           `path:"company_id"`
		Body      CreateBayRequest `json:"body"`
	}) (*struct {
		Body BayResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, defaultCompany(e))
		if err := requirePermission(ctx, e, companyID, "bay.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := domain.Bay{
			CompanyID: companyID,
			Name:      input.Body.Name,
			OpenTime:  stringOrEmpty(input.Body.OpenTime),
			CloseTime: stringOrEmpty(input.Body.CloseTime),
		}
		if input.Body.ID != nil {
			b.ID = *input.Body.ID
		}
		res, err := e.CreateBay(ctx, b, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BayResponse `json:"body"`
		}{Body: bayResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bays",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/bays",
		Summary:     "List bays",
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct {
		Body []BayResponse `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, defaultCompany(e))
		if err := requirePermission(ctx, e, companyID, "workorder.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListBays(ctx, companyID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]BayResponse, 0, len(items))
		for _, b := range items {
			res = append(res, bayResponse(b))
		}
		return &struct {
			Body []BayResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-bay",
		Method:      http.MethodGet,
		Path:        "/bays/{bay_id}",
		Summary:     "Get bay",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BayID string `path:"bay_id"`
	}) (*struct {
		Body BayResponse `json:"body"`
	}, error) {
		b, err := e.Repo.GetBay(ctx, input.BayID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, b.CompanyID, "workorder.read"); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BayResponse `json:"body"`
		}{Body: bayResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-bay-active",
		Method:      http.MethodPatch,
		Path:        "/bays/{bay_id}/active",
		Summary:     "Enable or disable a bay",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		BayID string           `path:"bay_id"`
		Body  BayActiveRequest `json:"body"`
	}) (*struct {
		Body BayResponse `json:"body"`
	}, error) {
		b, err := e.Repo.GetBay(ctx, input.BayID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, b.CompanyID, "bay.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetBayActive(ctx, input.BayID, input.Body.Active, actorID); err != nil {
			return nil, handleError(err)
		}
		b, err = e.Repo.GetBay(ctx, input.BayID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BayResponse `json:"body"`
		}{Body: bayResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-bay-member",
		Method:      http.MethodPost,
		Path:        "/bays/{bay_id}/members",
		Summary:     "Add bay member",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		BayID string           `path:"bay_id"`
		Body  BayMemberRequest `json:"body"`
	}) (*struct{}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		b, err := e.Repo.GetBay(ctx, input.BayID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, b.CompanyID, "bay.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AddBayMember(ctx, input.BayID, input.Body.ActorID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-bay-member",
		Method:      http.MethodDelete,
		Path:        "/bays/{bay_id}/members/{actor_id}",
		Summary:     "Remove bay member",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		BayID   string `path:"bay_id"`
		ActorID string `path:"actor_id"`
	}) (*struct{}, error) {
		b, err := e.Repo.GetBay(ctx, input.BayID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, b.CompanyID, "bay.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveBayMember(ctx, input.BayID, input.ActorID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-bay-holiday",
		Method:      http.MethodPost,
		Path:        "/bays/{bay_id}/holidays",
		Summary:     "Add bay holiday",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		BayID string            `path:"bay_id"`
		Body  BayHolidayRequest `json:"body"`
	}) (*struct{}, error) {
		b, err := e.Repo.GetBay(ctx, input.BayID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, b.CompanyID, "bay.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		h := domain.BayHoliday{
			BayID:  input.BayID,
			Date:   input.Body.Date,
			Reason: stringOrEmpty(input.Body.Reason),
		}
		if err := e.AddBayHoliday(ctx, h, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-bay-holiday",
		Method:      http.MethodDelete,
		Path:        "/bays/{bay_id}/holidays/{date}",
		Summary:     "Remove bay holiday",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		BayID string `path:"bay_id"`
		Date  string `path:"date"`
	}) (*struct{}, error) {
		b, err := e.Repo.GetBay(ctx, input.BayID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, b.CompanyID, "bay.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveBayHoliday(ctx, input.BayID, input.Date, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bay-calendar",
		Method:      http.MethodGet,
		Path:        "/bays/{bay_id}/calendar",
		Summary:     "Bay allocations for a date",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BayID string `path:"bay_id"`
		Date  string `query:"date" required:"true"`
	}) (*struct {
		Body []AllocationResponse `json:"body"`
	}, error) {
		b, err := e.Repo.GetBay(ctx, input.BayID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, b.CompanyID, "workorder.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAllocations(ctx, input.BayID, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]AllocationResponse, 0, len(items))
		for _, a := range items {
			res = append(res, allocationResponse(a))
		}
		return &struct {
			Body []AllocationResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bay-availability",
		Method:      http.MethodGet,
		Path:        "/bays/{bay_id}/availability",
		Summary:     "Check a bay slot",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		BayID string `path:"bay_id"`
		Date  string `query:"date" required:"true"`
		Start string `query:"start" required:"true"`
		End   string `query:"end" required:"true"`
	}) (*struct {
		Body AvailabilityResponse `json:"body"`
	}, error) {
		b, err := e.Repo.GetBay(ctx, input.BayID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, b.CompanyID, "workorder.read"); err != nil {
			return nil, handleError(err)
		}
		available, err := e.CheckSlot(ctx, input.BayID, input.Date, input.Start, input.End)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AvailabilityResponse `json:"body"`
		}{Body: AvailabilityResponse{
			BayID:       input.BayID,
			BookingDate: input.Date,
			StartTime:   input.Start,
			EndTime:     input.End,
			Available:   available,
		}}, nil
	})
}

func registerSuppliers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-supplier",
		Method:        http.MethodPost,
		Path:          "/companies/{company_id}/suppliers",
		Summary:       "Create supplier",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string                `path:"company_id"`
		Body      CreateSupplierRequest `json:"body"`
	}) (*struct {
		Body SupplierDirectoryResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, defaultCompany(e))
		if err := requirePermission(ctx, e, companyID, "supplier.manage"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s := domain.Supplier{
			CompanyID: companyID,
			Name:      input.Body.Name,
			Contact:   stringOrEmpty(input.Body.Contact),
		}
		if input.Body.ID != nil {
			s.ID = *input.Body.ID
		}
		res, err := e.CreateSupplier(ctx, s, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SupplierDirectoryResponse `json:"body"`
		}{Body: supplierResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-suppliers",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/suppliers",
		Summary:     "List suppliers",
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct {
		Body []SupplierDirectoryResponse `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, defaultCompany(e))
		if err := requirePermission(ctx, e, companyID, "workorder.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListSuppliers(ctx, companyID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]SupplierDirectoryResponse, 0, len(items))
		for _, s := range items {
			res = append(res, supplierResponse(s))
		}
		return &struct {
			Body []SupplierDirectoryResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerWorkOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-work-order",
		Method:      http.MethodPut,
		Path:        "/companies/{company_id}/work-orders",
		Summary:     "Create or edit a work order by identity",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string                 `path:"company_id"`
		Body      UpsertWorkOrderRequest `json:"body"`
	}) (*struct {
		Status int
		Body   WorkOrderResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, defaultCompany(e))
		if err := requirePermission(ctx, e, companyID, "workorder.create"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.WorkOrderUpsertOptions{
			Identity: domain.Identity{
				VehicleType:    domain.VehicleType(input.Body.VehicleType),
				CompanyID:      companyID,
				VehicleStockID: input.Body.VehicleStockID,
				FieldID:        input.Body.FieldID,
			},
			Mode:              domain.Mode(input.Body.Mode),
			BayID:             stringOrEmpty(input.Body.BayID),
			BookingDate:       stringOrEmpty(input.Body.BookingDate),
			StartTime:         stringOrEmpty(input.Body.StartTime),
			EndTime:           stringOrEmpty(input.Body.EndTime),
			Description:       stringOrEmpty(input.Body.Description),
			SelectedSuppliers: input.Body.SelectedSuppliers,
			ActorID:           actorID,
		}
		w, created, err := e.UpsertWorkOrder(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		return &struct {
			Status int
			Body   WorkOrderResponse `json:"body"`
		}{Status: status, Body: workOrderResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-work-order",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/work-orders/resolve",
		Summary:     "Resolve a work order by identity key",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID      string `path:"company_id"`
		VehicleType    string `query:"vehicle_type" required:"true" enum:"inspection,tradein"`
		VehicleStockID int64  `query:"vehicle_stock_id" required:"true"`
		FieldID        string `query:"field_id" required:"true"`
	}) (*struct {
		Body WorkOrderResponse `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, defaultCompany(e))
		if err := requirePermission(ctx, e, companyID, "workorder.read"); err != nil {
			return nil, handleError(err)
		}
		w, err := e.Repo.ResolveWorkOrder(ctx, domain.Identity{
			VehicleType:    domain.VehicleType(input.VehicleType),
			CompanyID:      companyID,
			VehicleStockID: input.VehicleStockID,
			FieldID:        input.FieldID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkOrderResponse `json:"body"`
		}{Body: workOrderResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-orders",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/work-orders",
		Summary:     "List work orders",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
		Status    string `query:"status"`
		Mode      string `query:"mode" enum:",bay,supplier"`
		BayID     string `query:"bay_id"`
	}) (*struct {
		Body paginatedWorkOrders `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, defaultCompany(e))
		if err := requirePermission(ctx, e, companyID, "workorder.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListWorkOrders(ctx, repo.WorkOrderFilters{
			CompanyID: companyID,
			Status:    input.Status,
			Mode:      input.Mode,
			BayID:     input.BayID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedWorkOrders{Items: []WorkOrderResponse{}}
		for _, w := range items {
			resp.Items = append(resp.Items, workOrderResponse(w))
		}
		return &struct {
			Body paginatedWorkOrders `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-order",
		Method:      http.MethodGet,
		Path:        "/work-orders/{id}",
		Summary:     "Get work order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body WorkOrderResponse `json:"body"`
	}, error) {
		w, err := e.Repo.GetWorkOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, w.Identity.CompanyID, "workorder.read"); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkOrderResponse `json:"body"`
		}{Body: workOrderResponse(w)}, nil
	})
}

// transitionHandler wires one status-changing endpoint.
func transitionHandler(api huma.API, opID, route, summary, perm string, fn func(ctx context.Context, e engine.Engine, id, actorID string, body []byte) (domain.WorkOrder, error), e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        route,
		Summary:     summary,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body WorkOrderResponse `json:"body"`
	}, error) {
		w, err := e.Repo.GetWorkOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, w.Identity.CompanyID, perm); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := fn(ctx, e, input.ID, actorID, bodyBytes(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkOrderResponse `json:"body"`
		}{Body: workOrderResponse(res)}, nil
	})
}

func registerTransitions(api huma.API, e engine.Engine) {
	transitionHandler(api, "accept-booking", "/work-orders/{id}/accept", "Accept bay booking", "workorder.execute",
		func(ctx context.Context, e engine.Engine, id, actorID string, _ []byte) (domain.WorkOrder, error) {
			return e.AcceptBooking(ctx, id, actorID)
		}, e)

	transitionHandler(api, "reject-booking", "/work-orders/{id}/reject", "Reject bay booking", "workorder.execute",
		func(ctx context.Context, e engine.Engine, id, actorID string, body []byte) (domain.WorkOrder, error) {
			var req RejectBookingRequest
			if err := decodeBody(body, &req); err != nil {
				return domain.WorkOrder{}, err
			}
			return e.RejectBooking(ctx, id, req.Reason, actorID)
		}, e)

	transitionHandler(api, "start-work", "/work-orders/{id}/start", "Start work", "workorder.execute",
		func(ctx context.Context, e engine.Engine, id, actorID string, _ []byte) (domain.WorkOrder, error) {
			return e.StartWork(ctx, id, actorID)
		}, e)

	transitionHandler(api, "save-comment-sheet", "/work-orders/{id}/comment-sheet", "Save or submit comment sheet", "workorder.execute",
		func(ctx context.Context, e engine.Engine, id, actorID string, body []byte) (domain.WorkOrder, error) {
			var req CommentSheetRequest
			if err := decodeBody(body, &req); err != nil {
				return domain.WorkOrder{}, err
			}
			if req.Sheet == nil {
				return domain.WorkOrder{}, errors.New("sheet is required")
			}
			data, err := json.Marshal(req.Sheet)
			if err != nil {
				return domain.WorkOrder{}, err
			}
			return e.SaveCommentSheet(ctx, id, string(data), req.Submit, actorID)
		}, e)

	transitionHandler(api, "complete-work", "/work-orders/{id}/complete", "Sign off reviewed work", "workorder.complete",
		func(ctx context.Context, e engine.Engine, id, actorID string, _ []byte) (domain.WorkOrder, error) {
			return e.CompleteWork(ctx, id, actorID)
		}, e)

	transitionHandler(api, "request-rework", "/work-orders/{id}/rework", "Send reviewed work back", "workorder.rework",
		func(ctx context.Context, e engine.Engine, id, actorID string, body []byte) (domain.WorkOrder, error) {
			var req ReworkRequest
			if len(body) > 0 {
				if err := decodeBody(body, &req); err != nil {
					return domain.WorkOrder{}, err
				}
			}
			return e.RequestRework(ctx, id, req.Note, actorID)
		}, e)

	transitionHandler(api, "resume-work", "/work-orders/{id}/resume", "Resume reworked item", "workorder.execute",
		func(ctx context.Context, e engine.Engine, id, actorID string, _ []byte) (domain.WorkOrder, error) {
			return e.ResumeWork(ctx, id, actorID)
		}, e)

	transitionHandler(api, "rebook-work-order", "/work-orders/{id}/rebook", "Rebook a rejected bay booking", "workorder.rebook",
		func(ctx context.Context, e engine.Engine, id, actorID string, body []byte) (domain.WorkOrder, error) {
			var req RebookRequest
			if err := decodeBody(body, &req); err != nil {
				return domain.WorkOrder{}, err
			}
			return e.Rebook(ctx, engine.RebookOptions{
				WorkOrderID: id,
				BayID:       req.BayID,
				BookingDate: req.BookingDate,
				StartTime:   req.StartTime,
				EndTime:     req.EndTime,
				Description: stringOrEmpty(req.Description),
				ActorID:     actorID,
			})
		}, e)
}

func registerFanOut(api huma.API, e engine.Engine) {
	transitionHandler(api, "invite-suppliers", "/work-orders/{id}/suppliers/invite", "Invite suppliers", "supplier.invite",
		func(ctx context.Context, e engine.Engine, id, actorID string, body []byte) (domain.WorkOrder, error) {
			var req InviteSuppliersRequest
			if err := decodeBody(body, &req); err != nil {
				return domain.WorkOrder{}, err
			}
			return e.InviteSuppliers(ctx, id, req.Suppliers, actorID)
		}, e)

	huma.Register(api, huma.Operation{
		OperationID:   "record-supplier-response",
		Method:        http.MethodPost,
		Path:          "/work-orders/{id}/responses",
		Summary:       "Record a supplier quote",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body SupplierResponseRequest `json:"body"`
	}) (*struct {
		Body SupplierResponseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		w, err := e.Repo.GetWorkOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requirePermission(ctx, e, w.Identity.CompanyID, "workorder.respond"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp, err := e.RecordResponse(ctx, engine.ResponseOptions{
			WorkOrderID:   input.ID,
			SupplierID:    input.Body.SupplierID,
			EstimatedCost: input.Body.EstimatedCost,
			EstimatedTime: stringOrEmpty(input.Body.EstimatedTime),
			Comments:      stringOrEmpty(input.Body.Comments),
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SupplierResponseResponse `json:"body"`
		}{Body: supplierResponseResponse(resp)}, nil
	})

	transitionHandler(api, "approve-supplier", "/work-orders/{id}/approve", "Approve a supplier quote", "supplier.approve",
		func(ctx context.Context, e engine.Engine, id, actorID string, body []byte) (domain.WorkOrder, error) {
			var req ApproveSupplierRequest
			if err := decodeBody(body, &req); err != nil {
				return domain.WorkOrder{}, err
			}
			return e.ApproveSupplier(ctx, id, req.SupplierID, actorID)
		}, e)
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		CompanyID  string `path:"company_id"`
		Action     string `query:"action"`
		EntityKind string `query:"entity_kind" enum:",company,workorder,bay,supplier,rbac"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, defaultCompany(e))
		if err := requirePermission(ctx, e, companyID, "events.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, companyID, input.Action, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/companies/{company_id}/me/permissions",
		Summary:     "Current actor permissions",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompanyID string `path:"company_id"`
	}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, defaultCompany(e))
		who, err := e.WhoAmI(ctx, companyID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     who.ActorID,
			CompanyID:   companyID,
			Roles:       nonNilSlice(who.Roles),
			Permissions: nonNilSlice(who.Permissions),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/companies/{company_id}/rbac/roles/grant",
		Summary:     "Grant role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string            `path:"company_id"`
		Body      RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, defaultCompany(e))
		if err := e.GrantRole(ctx, companyID, actorID, input.Body.ActorID, input.Body.RoleID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodPost,
		Path:        "/companies/{company_id}/rbac/roles/revoke",
		Summary:     "Revoke role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CompanyID string            `path:"company_id"`
		Body      RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		companyID := companyFromPathOrHeader(ctx, input.CompanyID, defaultCompany(e))
		if err := e.RevokeRole(ctx, companyID, actorID, input.Body.ActorID, input.Body.RoleID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		roles := principal.Roles
		perms := principal.Permissions
		if len(perms) == 0 && e.Config != nil {
			if who, err := e.WhoAmI(ctx, e.Config.Company.ID, principal.ActorID); err == nil {
				if len(roles) == 0 {
					roles = who.Roles
				}
				perms = who.Permissions
			}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			CompanyID:   principal.CompanyID,
			Roles:       nonNilSlice(roles),
			Permissions: nonNilSlice(perms),
		}}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		company := strings.TrimSpace(input.Body.CompanyID)
		if actor == "" || company == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and company_id are required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, company, input.Body.Roles, input.Body.Scopes)
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

// decodeBody parses a transition request body, tolerating the huma
// wrapper shape {"body": {...}}.
func decodeBody(data []byte, out any) error {
	if len(data) == 0 {
		return errors.New("body required")
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	if inner, ok := outer["body"]; ok {
		if err := json.Unmarshal(inner, out); err == nil {
			return nil
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func defaultCompany(e engine.Engine) string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Company.ID
}

func companyFromPathOrHeader(ctx context.Context, pathCompanyID, fallback string) string {
	if pathCompanyID != "" {
		return pathCompanyID
	}
	if req, ok := ctx.Value(requestKey{}).(*http.Request); ok && req != nil {
		if v := strings.TrimSpace(req.Header.Get("X-Company-Id")); v != "" {
			return v
		}
	}
	return fallback
}
