package bmi_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/ewatercycle/ewatercycle-go/internal/bmi"
	"github.com/ewatercycle/ewatercycle-go/internal/bmi/bmitest"
)

func newGRPCClient(t *testing.T, model bmi.Bmi) *bmi.Client {
	t.Helper()
	srv, err := bmi.NewGRPCServer(model, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewGRPCServer() err=%v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() err=%v", err)
	}
	go srv.Serve(ln)
	t.Cleanup(srv.Stop)

	c, err := bmi.Dial(ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() err=%v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	model := bmitest.New()
	c := newGRPCClient(t, model)

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping() err=%v", err)
	}
	if err := c.Initialize(ctx, "/work/config.yaml"); err != nil {
		t.Fatalf("Initialize() err=%v", err)
	}
	if model.ConfigFile != "/work/config.yaml" {
		t.Fatalf("ConfigFile=%q, want /work/config.yaml", model.ConfigFile)
	}
	if err := c.Update(ctx); err != nil {
		t.Fatalf("Update() err=%v", err)
	}
	if now, err := c.GetCurrentTime(ctx); err != nil || now != 1 {
		t.Fatalf("GetCurrentTime()=%v,%v, want 1", now, err)
	}
	if err := c.UpdateUntil(ctx, 5); err != nil {
		t.Fatalf("UpdateUntil() err=%v", err)
	}
	if now, _ := c.GetCurrentTime(ctx); now != 5 {
		t.Fatalf("GetCurrentTime()=%v, want 5", now)
	}
	if end, err := c.GetEndTime(ctx); err != nil || end != 10 {
		t.Fatalf("GetEndTime()=%v,%v, want 10", end, err)
	}

	names, err := c.GetOutputVarNames(ctx)
	if err != nil || !reflect.DeepEqual(names, []string{"discharge", "precipitation"}) {
		t.Fatalf("GetOutputVarNames()=%v,%v", names, err)
	}
	if units, err := c.GetVarUnits(ctx, "discharge"); err != nil || units != "m3 s-1" {
		t.Fatalf("GetVarUnits()=%q,%v, want m3 s-1", units, err)
	}
	if nbytes, err := c.GetVarNbytes(ctx, "discharge"); err != nil || nbytes != 48 {
		t.Fatalf("GetVarNbytes()=%d,%v, want 48", nbytes, err)
	}
	if loc, err := c.GetVarLocation(ctx, "discharge"); err != nil || loc != "node" {
		t.Fatalf("GetVarLocation()=%q,%v, want node", loc, err)
	}
	if tu, err := c.GetTimeUnits(ctx); err != nil || tu != "days since 2000-01-01 00:00:00" {
		t.Fatalf("GetTimeUnits()=%q,%v", tu, err)
	}

	if gt, err := c.GetGridType(ctx, 0); err != nil || gt != "rectilinear" {
		t.Fatalf("GetGridType()=%q,%v", gt, err)
	}
	if shape, err := c.GetGridShape(ctx, 0); err != nil || !reflect.DeepEqual(shape, []int{2, 3}) {
		t.Fatalf("GetGridShape()=%v,%v, want [2 3]", shape, err)
	}
	if xs, err := c.GetGridX(ctx, 0); err != nil || !reflect.DeepEqual(xs, []float64{4.5, 5.5, 6.5}) {
		t.Fatalf("GetGridX()=%v,%v", xs, err)
	}

	if vals, err := c.GetValue(ctx, "discharge"); err != nil || !reflect.DeepEqual(vals, []float64{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("GetValue()=%v,%v", vals, err)
	}
	if vals, err := c.GetValueAtIndices(ctx, "discharge", []int{0, 5}); err != nil || !reflect.DeepEqual(vals, []float64{1, 6}) {
		t.Fatalf("GetValueAtIndices()=%v,%v, want [1 6]", vals, err)
	}
	if err := c.SetValueAtIndices(ctx, "precipitation", []int{2}, []float64{7.5}); err != nil {
		t.Fatalf("SetValueAtIndices() err=%v", err)
	}
	if err := c.SetValue(ctx, "discharge", []float64{math.NaN(), 1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("SetValue() err=%v", err)
	}
	if got := model.Vars["precipitation"]; !reflect.DeepEqual(got, []float64{0, 0, 7.5, 0, 0, 0}) {
		t.Fatalf("precipitation=%v", got)
	}
	if !math.IsNaN(model.Vars["discharge"][0]) {
		t.Fatalf("discharge[0]=%v, want NaN", model.Vars["discharge"][0])
	}

	if err := c.Finalize(ctx); err != nil {
		t.Fatalf("Finalize() err=%v", err)
	}
	if !model.Finalized {
		t.Fatalf("Finalized=false, want true")
	}
}

func TestClient_RemoteError(t *testing.T) {
	c := newGRPCClient(t, bmitest.New())
	_, err := c.GetValue(context.Background(), "nope")
	var remote *bmi.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("GetValue() err=%v, want RemoteError", err)
	}
	if remote.Call != "getValue" || remote.Code != codes.Internal {
		t.Fatalf("RemoteError=%+v", remote)
	}
	if !strings.Contains(remote.Message, `unknown variable "nope"`) {
		t.Fatalf("Message=%q", remote.Message)
	}
}

func TestClient_PingFailsOnHTTPServer(t *testing.T) {
	h, err := bmi.NewHandler(bmitest.New(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewHandler() err=%v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	c, err := bmi.Dial(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial() err=%v", err)
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := c.Ping(ctx); err == nil {
		t.Fatalf("Ping() err=nil, want failure against a JSON server")
	}
}

func TestDial_RequiresTarget(t *testing.T) {
	if _, err := bmi.Dial(" "); err == nil {
		t.Fatalf("Dial(\" \") err=nil, want error")
	}
}

func TestServeGRPC_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- bmi.ServeGRPC(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), "127.0.0.1:0", bmitest.New())
	}()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeGRPC() err=%v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("ServeGRPC() did not return after cancel")
	}
}
