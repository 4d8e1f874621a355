package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/grid-shield/go-controller/internal/shield"
)

// CheckMethod is the unary RPC served by the model checking sidecar.
const CheckMethod = "/gridshield.Verifier/Check"

// #region client
// VerifierClient is the sidecar surface. Request and response are generic
// structs: {model, model_name, formula, value, comparison} in, the scheduler
// choice map {states, valuations, labels} out.
type VerifierClient interface {
	Check(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type verifierClient struct {
	cc grpc.ClientConnInterface
}

// NewVerifierClient wraps a connection.
func NewVerifierClient(cc grpc.ClientConnInterface) VerifierClient {
	return &verifierClient{cc: cc}
}

func (c *verifierClient) Check(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CheckMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion client

// #region remote-checker
// RemoteChecker sends the model to a gRPC model checking sidecar and returns
// the live choice map it answers with.
type RemoteChecker struct {
	conn   *grpc.ClientConn
	client VerifierClient
}

// NewRemoteChecker connects to the sidecar at addr.
func NewRemoteChecker(addr string) (*RemoteChecker, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &RemoteChecker{conn: conn, client: NewVerifierClient(conn)}, nil
}

// NewRemoteCheckerWithClient creates a RemoteChecker with an injected client.
// Used for testing without a real gRPC connection.
func NewRemoteCheckerWithClient(client VerifierClient) *RemoteChecker {
	return &RemoteChecker{client: client}
}

// Close shuts down the gRPC connection.
func (r *RemoteChecker) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// Check uploads the model and decodes the returned choice map.
func (r *RemoteChecker) Check(ctx context.Context, modelFile string, spec SafetySpec) (shield.Artifact, error) {
	model, err := os.ReadFile(modelFile)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	req, err := structpb.NewStruct(map[string]any{
		"model":      string(model),
		"model_name": filepath.Base(modelFile),
		"formula":    spec.Formula,
		"value":      spec.Value,
		"comparison": spec.Comparison,
	})
	if err != nil {
		return nil, fmt.Errorf("build check request: %w", err)
	}

	resp, err := r.client.Check(ctx, req)
	if err != nil {
		return nil, &ExternalToolError{
			Tool:     "verifier sidecar",
			ExitCode: -1,
			Stderr:   status.Code(err).String(),
			Err:      fmt.Errorf("check rpc: %w", err),
		}
	}
	cm, err := decodeChoiceMap(resp)
	if err != nil {
		return nil, err
	}
	return cm, nil
}

// #endregion remote-checker

// #region decode
func decodeChoiceMap(resp *structpb.Struct) (*shield.ChoiceMap, error) {
	if resp == nil {
		return nil, &ExternalToolError{Tool: "verifier sidecar", ExitCode: -1, Err: errors.New("empty response")}
	}
	data, err := protojson.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode choice map: %w", err)
	}
	var cm shield.ChoiceMap
	if err := json.Unmarshal(data, &cm); err != nil {
		return nil, &ExternalToolError{Tool: "verifier sidecar", ExitCode: -1, Err: fmt.Errorf("decode choice map: %w", err)}
	}
	return &cm, nil
}

// #endregion decode
