package bmi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const serviceName = "bmi.BmiService"

var locations = []string{"node", "edge", "face"}

// Client talks to a grpc4bmi server, the BMI server inside model containers.
type Client struct {
	target string
	conn   *grpc.ClientConn
}

var _ Bmi = (*Client)(nil)

// Dial connects to the grpc4bmi server at target, a host:port address. The
// connection is established lazily on the first call.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("bmi target is required")
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wireCodec{})),
	}, opts...)
	conn, err := grpc.NewClient("passthrough:///"+target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial bmi %s: %w", target, err)
	}
	return &Client{target: target, conn: conn}, nil
}

func (c *Client) Target() string { return c.target }

// Close releases the connection. It does not stop the server.
func (c *Client) Close() error { return c.conn.Close() }

// Ping succeeds once the server answers getComponentName.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c.GetComponentName(ctx)
	return err
}

func (c *Client) invoke(ctx context.Context, method string, in, out message) error {
	if out == nil {
		out = &empty{}
	}
	err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, in, out)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("bmi %s: %w", method, ctxErr)
	}
	if st, ok := status.FromError(err); ok {
		return &RemoteError{Call: method, Code: st.Code(), Message: st.Message()}
	}
	return fmt.Errorf("bmi %s: %w", method, err)
}

func (c *Client) Initialize(ctx context.Context, configFile string) error {
	return c.invoke(ctx, "initialize", &text{v: configFile}, nil)
}

func (c *Client) Update(ctx context.Context) error {
	return c.invoke(ctx, "update", &empty{}, nil)
}

func (c *Client) UpdateUntil(ctx context.Context, t float64) error {
	return c.invoke(ctx, "updateUntil", &number{v: t}, nil)
}

func (c *Client) Finalize(ctx context.Context) error {
	return c.invoke(ctx, "finalize", &empty{}, nil)
}

func (c *Client) GetComponentName(ctx context.Context) (string, error) {
	var out text
	err := c.invoke(ctx, "getComponentName", &empty{}, &out)
	return out.v, err
}

func (c *Client) GetInputVarNames(ctx context.Context) ([]string, error) {
	var out names
	err := c.invoke(ctx, "getInputVarNames", &empty{}, &out)
	return out.v, err
}

func (c *Client) GetOutputVarNames(ctx context.Context) ([]string, error) {
	var out names
	err := c.invoke(ctx, "getOutputVarNames", &empty{}, &out)
	return out.v, err
}

func (c *Client) GetVarGrid(ctx context.Context, name string) (int, error) {
	return c.varInt(ctx, "getVarGrid", name)
}

func (c *Client) GetVarType(ctx context.Context, name string) (string, error) {
	return c.varText(ctx, "getVarType", name)
}

func (c *Client) GetVarUnits(ctx context.Context, name string) (string, error) {
	return c.varText(ctx, "getVarUnits", name)
}

func (c *Client) GetVarItemsize(ctx context.Context, name string) (int, error) {
	return c.varInt(ctx, "getVarItemSize", name)
}

func (c *Client) GetVarNbytes(ctx context.Context, name string) (int, error) {
	return c.varInt(ctx, "getVarNBytes", name)
}

func (c *Client) GetVarLocation(ctx context.Context, name string) (string, error) {
	loc, err := c.varInt(ctx, "getVarLocation", name)
	if err != nil {
		return "", err
	}
	if loc < 0 || loc >= len(locations) {
		return "", fmt.Errorf("bmi getVarLocation: unknown location %d", loc)
	}
	return locations[loc], nil
}

func (c *Client) GetCurrentTime(ctx context.Context) (float64, error) {
	return c.number(ctx, "getCurrentTime")
}

func (c *Client) GetStartTime(ctx context.Context) (float64, error) {
	return c.number(ctx, "getStartTime")
}

func (c *Client) GetEndTime(ctx context.Context) (float64, error) {
	return c.number(ctx, "getEndTime")
}

func (c *Client) GetTimeStep(ctx context.Context) (float64, error) {
	return c.number(ctx, "getTimeStep")
}

func (c *Client) GetTimeUnits(ctx context.Context) (string, error) {
	var out text
	err := c.invoke(ctx, "getTimeUnits", &empty{}, &out)
	return out.v, err
}

func (c *Client) GetValue(ctx context.Context, name string) ([]float64, error) {
	out := newValueResponse()
	err := c.invoke(ctx, "getValue", &text{v: name}, out)
	return out.v, err
}

func (c *Client) GetValueAtIndices(ctx context.Context, name string, indices []int) ([]float64, error) {
	out := newValueResponse()
	err := c.invoke(ctx, "getValueAtIndices", &valueAtIndicesRequest{name: name, indices: toInt32s(indices)}, out)
	return out.v, err
}

// SetValue sends values in the array type of the variable, the server
// rejects a mismatching oneof member.
func (c *Client) SetValue(ctx context.Context, name string, vals []float64) error {
	kind, err := c.kind(ctx, name)
	if err != nil {
		return err
	}
	req := newSetValueRequest()
	req.name, req.kind, req.v = name, kind, vals
	return c.invoke(ctx, "setValue", req, nil)
}

func (c *Client) SetValueAtIndices(ctx context.Context, name string, indices []int, vals []float64) error {
	kind, err := c.kind(ctx, name)
	if err != nil {
		return err
	}
	req := newSetValueAtIndicesRequest()
	req.name, req.indices, req.kind, req.v = name, toInt32s(indices), kind, vals
	return c.invoke(ctx, "setValueAtIndices", req, nil)
}

func (c *Client) kind(ctx context.Context, name string) (arrayKind, error) {
	t, err := c.GetVarType(ctx, name)
	if err != nil {
		return 0, err
	}
	return kindOf(t), nil
}

func (c *Client) GetGridType(ctx context.Context, grid int) (string, error) {
	var out text
	err := c.invoke(ctx, "getGridType", &integer{v: int32(grid)}, &out)
	return out.v, err
}

func (c *Client) GetGridRank(ctx context.Context, grid int) (int, error) {
	return c.gridInt(ctx, "getGridRank", grid)
}

func (c *Client) GetGridSize(ctx context.Context, grid int) (int, error) {
	return c.gridInt(ctx, "getGridSize", grid)
}

func (c *Client) GetGridShape(ctx context.Context, grid int) ([]int, error) {
	var out ints
	err := c.invoke(ctx, "getGridShape", &integer{v: int32(grid)}, &out)
	return toInts(out.v), err
}

func (c *Client) GetGridX(ctx context.Context, grid int) ([]float64, error) {
	var out doubles
	err := c.invoke(ctx, "getGridX", &integer{v: int32(grid)}, &out)
	return out.v, err
}

func (c *Client) GetGridY(ctx context.Context, grid int) ([]float64, error) {
	var out doubles
	err := c.invoke(ctx, "getGridY", &integer{v: int32(grid)}, &out)
	return out.v, err
}

func (c *Client) varInt(ctx context.Context, method, name string) (int, error) {
	var out integer
	err := c.invoke(ctx, method, &text{v: name}, &out)
	return int(out.v), err
}

func (c *Client) varText(ctx context.Context, method, name string) (string, error) {
	var out text
	err := c.invoke(ctx, method, &text{v: name}, &out)
	return out.v, err
}

func (c *Client) gridInt(ctx context.Context, method string, grid int) (int, error) {
	var out integer
	err := c.invoke(ctx, method, &integer{v: int32(grid)}, &out)
	return int(out.v), err
}

func (c *Client) number(ctx context.Context, method string) (float64, error) {
	var out number
	err := c.invoke(ctx, method, &empty{}, &out)
	return out.v, err
}
