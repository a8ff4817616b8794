package bmi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
)

// NewHandler serves model over the BMI HTTP protocol. Requests that do not
// match the protocol description are rejected with 400.
func NewHandler(model Bmi, logger *slog.Logger) (http.Handler, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	router, err := Router()
	if err != nil {
		return nil, err
	}
	s := &server{model: model}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statusBody{Status: "ok"})
	})
	s.routes(mux)
	return recoverMiddleware(logger, requestLogMiddleware(logger, validateMiddleware(router, mux))), nil
}

// Serve runs the handler on addr until ctx is cancelled.
func Serve(ctx context.Context, logger *slog.Logger, addr string, model Bmi) error {
	if logger == nil {
		logger = slog.Default()
	}
	handler, err := NewHandler(model, logger)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bmi server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type server struct {
	model Bmi
}

func (s *server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /initialize", func(w http.ResponseWriter, r *http.Request) {
		var in initializeBody
		if !decode(w, r, &in) {
			return
		}
		respondOK(w, s.model.Initialize(r.Context(), in.ConfigFile))
	})
	mux.HandleFunc("POST /update", func(w http.ResponseWriter, r *http.Request) {
		respondOK(w, s.model.Update(r.Context()))
	})
	mux.HandleFunc("POST /update_until", func(w http.ResponseWriter, r *http.Request) {
		var in timeBody
		if !decode(w, r, &in) {
			return
		}
		respondOK(w, s.model.UpdateUntil(r.Context(), in.Time))
	})
	mux.HandleFunc("POST /finalize", func(w http.ResponseWriter, r *http.Request) {
		respondOK(w, s.model.Finalize(r.Context()))
	})
	mux.HandleFunc("GET /get_component_name", func(w http.ResponseWriter, r *http.Request) {
		name, err := s.model.GetComponentName(r.Context())
		respond(w, nameBody{Name: name}, err)
	})
	mux.HandleFunc("GET /get_input_var_names", func(w http.ResponseWriter, r *http.Request) {
		names, err := s.model.GetInputVarNames(r.Context())
		respond(w, namesBody{Names: nonNil(names)}, err)
	})
	mux.HandleFunc("GET /get_output_var_names", func(w http.ResponseWriter, r *http.Request) {
		names, err := s.model.GetOutputVarNames(r.Context())
		respond(w, namesBody{Names: nonNil(names)}, err)
	})

	varInt := map[string]func(context.Context, string) (int, error){
		"get_var_grid":     s.model.GetVarGrid,
		"get_var_itemsize": s.model.GetVarItemsize,
		"get_var_nbytes":   s.model.GetVarNbytes,
	}
	for call, fn := range varInt {
		mux.HandleFunc("GET /"+call+"/{name}", func(w http.ResponseWriter, r *http.Request) {
			v, err := fn(r.Context(), r.PathValue("name"))
			respond(w, intBody{Value: v}, err)
		})
	}
	varText := map[string]func(context.Context, string) (string, error){
		"get_var_type":     s.model.GetVarType,
		"get_var_units":    s.model.GetVarUnits,
		"get_var_location": s.model.GetVarLocation,
	}
	for call, fn := range varText {
		mux.HandleFunc("GET /"+call+"/{name}", func(w http.ResponseWriter, r *http.Request) {
			v, err := fn(r.Context(), r.PathValue("name"))
			respond(w, textBody{Value: v}, err)
		})
	}
	numbers := map[string]func(context.Context) (float64, error){
		"get_current_time": s.model.GetCurrentTime,
		"get_start_time":   s.model.GetStartTime,
		"get_end_time":     s.model.GetEndTime,
		"get_time_step":    s.model.GetTimeStep,
	}
	for call, fn := range numbers {
		mux.HandleFunc("GET /"+call, func(w http.ResponseWriter, r *http.Request) {
			v, err := fn(r.Context())
			respond(w, numberBody{Value: v}, err)
		})
	}
	mux.HandleFunc("GET /get_time_units", func(w http.ResponseWriter, r *http.Request) {
		v, err := s.model.GetTimeUnits(r.Context())
		respond(w, textBody{Value: v}, err)
	})

	mux.HandleFunc("GET /get_value/{name}", func(w http.ResponseWriter, r *http.Request) {
		v, err := s.model.GetValue(r.Context(), r.PathValue("name"))
		respond(w, valuesBody{Values: v}, err)
	})
	mux.HandleFunc("POST /get_value_at_indices/{name}", func(w http.ResponseWriter, r *http.Request) {
		var in indicesBody
		if !decode(w, r, &in) {
			return
		}
		v, err := s.model.GetValueAtIndices(r.Context(), r.PathValue("name"), in.Indices)
		respond(w, valuesBody{Values: v}, err)
	})
	mux.HandleFunc("POST /set_value/{name}", func(w http.ResponseWriter, r *http.Request) {
		var in valuesBody
		if !decode(w, r, &in) {
			return
		}
		respondOK(w, s.model.SetValue(r.Context(), r.PathValue("name"), in.Values))
	})
	mux.HandleFunc("POST /set_value_at_indices/{name}", func(w http.ResponseWriter, r *http.Request) {
		var in indexedValuesBody
		if !decode(w, r, &in) {
			return
		}
		if len(in.Indices) != len(in.Values) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "indices and values differ in length"})
			return
		}
		respondOK(w, s.model.SetValueAtIndices(r.Context(), r.PathValue("name"), in.Indices, in.Values))
	})

	mux.HandleFunc("GET /get_grid_type/{grid}", func(w http.ResponseWriter, r *http.Request) {
		grid, ok := gridParam(w, r)
		if !ok {
			return
		}
		v, err := s.model.GetGridType(r.Context(), grid)
		respond(w, textBody{Value: v}, err)
	})
	gridInts := map[string]func(context.Context, int) (int, error){
		"get_grid_rank": s.model.GetGridRank,
		"get_grid_size": s.model.GetGridSize,
	}
	for call, fn := range gridInts {
		mux.HandleFunc("GET /"+call+"/{grid}", func(w http.ResponseWriter, r *http.Request) {
			grid, ok := gridParam(w, r)
			if !ok {
				return
			}
			v, err := fn(r.Context(), grid)
			respond(w, intBody{Value: v}, err)
		})
	}
	mux.HandleFunc("GET /get_grid_shape/{grid}", func(w http.ResponseWriter, r *http.Request) {
		grid, ok := gridParam(w, r)
		if !ok {
			return
		}
		v, err := s.model.GetGridShape(r.Context(), grid)
		if v == nil {
			v = []int{}
		}
		respond(w, intsBody{Values: v}, err)
	})
	gridCoords := map[string]func(context.Context, int) ([]float64, error){
		"get_grid_x": s.model.GetGridX,
		"get_grid_y": s.model.GetGridY,
	}
	for call, fn := range gridCoords {
		mux.HandleFunc("GET /"+call+"/{grid}", func(w http.ResponseWriter, r *http.Request) {
			grid, ok := gridParam(w, r)
			if !ok {
				return
			}
			v, err := fn(r.Context(), grid)
			respond(w, valuesBody{Values: v}, err)
		})
	}
}

func gridParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	grid, err := strconv.Atoi(r.PathValue("grid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "grid must be an integer"})
		return 0, false
	}
	return grid, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json: " + err.Error()})
		return false
	}
	return true
}

func respondOK(w http.ResponseWriter, err error) {
	respond(w, statusBody{Status: "ok"}, err)
}

func respond(w http.ResponseWriter, body any, err error) {
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func validateMiddleware(router routers.Router, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := router.FindRoute(r)
		if err != nil {
			writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
			return
		}
		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func requestLogMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if sw.status >= 500 {
			logger.Error("bmi request", attrs...)
			return
		}
		logger.Debug("bmi request", attrs...)
	})
}

func recoverMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logger.Error("panic recovered", "path", r.URL.Path, "panic", v)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: fmt.Sprint(v)})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
