package bmi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"google.golang.org/grpc/codes"
)

// RemoteError is a failure reported by the model behind the BMI server.
// StatusCode is set by the JSON transport, Code by gRPC.
type RemoteError struct {
	Call       string
	StatusCode int
	Code       codes.Code
	Message    string
}

func (e *RemoteError) Error() string {
	status := fmt.Sprintf("status=%d", e.StatusCode)
	if e.StatusCode == 0 {
		status = "code=" + e.Code.String()
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		return fmt.Sprintf("bmi %s failed (%s)", e.Call, status)
	}
	return fmt.Sprintf("bmi %s failed (%s): %s", e.Call, status, msg)
}

// HTTPClient talks to a BMI server over the JSON transport.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	router  routers.Router
}

var _ Bmi = (*HTTPClient)(nil)

type HTTPClientOption func(*HTTPClient) error

func WithHTTPClient(h *http.Client) HTTPClientOption {
	return func(c *HTTPClient) error {
		if h == nil {
			return errors.New("http client is required")
		}
		c.http = h
		return nil
	}
}

// WithResponseValidation checks every response against the protocol description.
func WithResponseValidation() HTTPClientOption {
	return func(c *HTTPClient) error {
		r, err := Router()
		if err != nil {
			return err
		}
		c.router = r
		return nil
	}
}

func NewHTTPClient(baseURL string, opts ...HTTPClientOption) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 0},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Ping succeeds once the server answers its health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var out statusBody
	return c.call(ctx, "health", http.MethodGet, "/health", nil, &out)
}

func (c *HTTPClient) Initialize(ctx context.Context, configFile string) error {
	return c.call(ctx, "initialize", http.MethodPost, "/initialize", initializeBody{ConfigFile: configFile}, nil)
}

func (c *HTTPClient) Update(ctx context.Context) error {
	return c.call(ctx, "update", http.MethodPost, "/update", nil, nil)
}

func (c *HTTPClient) UpdateUntil(ctx context.Context, t float64) error {
	return c.call(ctx, "update_until", http.MethodPost, "/update_until", timeBody{Time: t}, nil)
}

func (c *HTTPClient) Finalize(ctx context.Context) error {
	return c.call(ctx, "finalize", http.MethodPost, "/finalize", nil, nil)
}

func (c *HTTPClient) GetComponentName(ctx context.Context) (string, error) {
	var out nameBody
	err := c.call(ctx, "get_component_name", http.MethodGet, "/get_component_name", nil, &out)
	return out.Name, err
}

func (c *HTTPClient) GetInputVarNames(ctx context.Context) ([]string, error) {
	var out namesBody
	err := c.call(ctx, "get_input_var_names", http.MethodGet, "/get_input_var_names", nil, &out)
	return out.Names, err
}

func (c *HTTPClient) GetOutputVarNames(ctx context.Context) ([]string, error) {
	var out namesBody
	err := c.call(ctx, "get_output_var_names", http.MethodGet, "/get_output_var_names", nil, &out)
	return out.Names, err
}

func (c *HTTPClient) GetVarGrid(ctx context.Context, name string) (int, error) {
	return c.varInt(ctx, "get_var_grid", name)
}

func (c *HTTPClient) GetVarType(ctx context.Context, name string) (string, error) {
	return c.varText(ctx, "get_var_type", name)
}

func (c *HTTPClient) GetVarUnits(ctx context.Context, name string) (string, error) {
	return c.varText(ctx, "get_var_units", name)
}

func (c *HTTPClient) GetVarItemsize(ctx context.Context, name string) (int, error) {
	return c.varInt(ctx, "get_var_itemsize", name)
}

func (c *HTTPClient) GetVarNbytes(ctx context.Context, name string) (int, error) {
	return c.varInt(ctx, "get_var_nbytes", name)
}

func (c *HTTPClient) GetVarLocation(ctx context.Context, name string) (string, error) {
	return c.varText(ctx, "get_var_location", name)
}

func (c *HTTPClient) GetCurrentTime(ctx context.Context) (float64, error) {
	return c.number(ctx, "get_current_time")
}

func (c *HTTPClient) GetStartTime(ctx context.Context) (float64, error) {
	return c.number(ctx, "get_start_time")
}

func (c *HTTPClient) GetEndTime(ctx context.Context) (float64, error) {
	return c.number(ctx, "get_end_time")
}

func (c *HTTPClient) GetTimeStep(ctx context.Context) (float64, error) {
	return c.number(ctx, "get_time_step")
}

func (c *HTTPClient) GetTimeUnits(ctx context.Context) (string, error) {
	var out textBody
	err := c.call(ctx, "get_time_units", http.MethodGet, "/get_time_units", nil, &out)
	return out.Value, err
}

func (c *HTTPClient) GetValue(ctx context.Context, name string) ([]float64, error) {
	var out valuesBody
	err := c.call(ctx, "get_value", http.MethodGet, "/get_value/"+url.PathEscape(name), nil, &out)
	return out.Values, err
}

func (c *HTTPClient) GetValueAtIndices(ctx context.Context, name string, indices []int) ([]float64, error) {
	var out valuesBody
	err := c.call(ctx, "get_value_at_indices", http.MethodPost, "/get_value_at_indices/"+url.PathEscape(name), indicesBody{Indices: indices}, &out)
	return out.Values, err
}

func (c *HTTPClient) SetValue(ctx context.Context, name string, values []float64) error {
	return c.call(ctx, "set_value", http.MethodPost, "/set_value/"+url.PathEscape(name), valuesBody{Values: values}, nil)
}

func (c *HTTPClient) SetValueAtIndices(ctx context.Context, name string, indices []int, values []float64) error {
	body := indexedValuesBody{Indices: indices, Values: values}
	return c.call(ctx, "set_value_at_indices", http.MethodPost, "/set_value_at_indices/"+url.PathEscape(name), body, nil)
}

func (c *HTTPClient) GetGridType(ctx context.Context, grid int) (string, error) {
	var out textBody
	err := c.call(ctx, "get_grid_type", http.MethodGet, gridPath("get_grid_type", grid), nil, &out)
	return out.Value, err
}

func (c *HTTPClient) GetGridRank(ctx context.Context, grid int) (int, error) {
	var out intBody
	err := c.call(ctx, "get_grid_rank", http.MethodGet, gridPath("get_grid_rank", grid), nil, &out)
	return out.Value, err
}

func (c *HTTPClient) GetGridSize(ctx context.Context, grid int) (int, error) {
	var out intBody
	err := c.call(ctx, "get_grid_size", http.MethodGet, gridPath("get_grid_size", grid), nil, &out)
	return out.Value, err
}

func (c *HTTPClient) GetGridShape(ctx context.Context, grid int) ([]int, error) {
	var out intsBody
	err := c.call(ctx, "get_grid_shape", http.MethodGet, gridPath("get_grid_shape", grid), nil, &out)
	return out.Values, err
}

func (c *HTTPClient) GetGridX(ctx context.Context, grid int) ([]float64, error) {
	var out valuesBody
	err := c.call(ctx, "get_grid_x", http.MethodGet, gridPath("get_grid_x", grid), nil, &out)
	return out.Values, err
}

func (c *HTTPClient) GetGridY(ctx context.Context, grid int) ([]float64, error) {
	var out valuesBody
	err := c.call(ctx, "get_grid_y", http.MethodGet, gridPath("get_grid_y", grid), nil, &out)
	return out.Values, err
}

func gridPath(call string, grid int) string {
	return "/" + call + "/" + strconv.Itoa(grid)
}

func (c *HTTPClient) varInt(ctx context.Context, call, name string) (int, error) {
	var out intBody
	err := c.call(ctx, call, http.MethodGet, "/"+call+"/"+url.PathEscape(name), nil, &out)
	return out.Value, err
}

func (c *HTTPClient) varText(ctx context.Context, call, name string) (string, error) {
	var out textBody
	err := c.call(ctx, call, http.MethodGet, "/"+call+"/"+url.PathEscape(name), nil, &out)
	return out.Value, err
}

func (c *HTTPClient) number(ctx context.Context, call string) (float64, error) {
	var out numberBody
	err := c.call(ctx, call, http.MethodGet, "/"+call, nil, &out)
	return out.Value, err
}

func (c *HTTPClient) call(ctx context.Context, call, method, path string, in, out any) error {
	var reqBody []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("bmi %s: marshal request: %w", call, err)
		}
		reqBody = b
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("bmi %s: %w", call, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bmi %s: %w", call, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bmi %s: read response: %w", call, err)
	}

	if c.router != nil {
		if err := c.validateResponse(ctx, req, resp, body); err != nil {
			return fmt.Errorf("bmi %s: %w", call, err)
		}
	}

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		if eb.Error == "" {
			eb.Error = strings.TrimSpace(string(body))
		}
		return &RemoteError{Call: call, StatusCode: resp.StatusCode, Message: eb.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("bmi %s: decode response: %w", call, err)
	}
	return nil
}

func (c *HTTPClient) validateResponse(ctx context.Context, req *http.Request, resp *http.Response, body []byte) error {
	route, pathParams, err := c.router.FindRoute(req)
	if err != nil {
		return fmt.Errorf("find route: %w", err)
	}
	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
		},
		Status:  resp.StatusCode,
		Header:  resp.Header,
		Options: &openapi3filter.Options{IncludeResponseStatus: true},
	}
	input.SetBodyBytes(body)
	if err := openapi3filter.ValidateResponse(ctx, input); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}
