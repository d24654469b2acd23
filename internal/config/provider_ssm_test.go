package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSMClient struct {
	params  map[string]string
	err     error
	batches [][]string
}

func (f *fakeSSMClient) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	f.batches = append(f.batches, append([]string(nil), in.Names...))
	if f.err != nil {
		return nil, f.err
	}
	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := f.params[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, name)
		}
	}
	return out, nil
}

func TestSSMProviderSatisfiesSecretProvider(t *testing.T) {
	var _ SecretProvider = (*SSMProvider)(nil)
}

func TestSSMProvider_BatchesByTen(t *testing.T) {
	client := &fakeSSMClient{params: map[string]string{}}
	keys := make([]string, 0, 23)
	for i := 0; i < 23; i++ {
		k := fmt.Sprintf("/dev/push/param-%02d", i)
		keys = append(keys, k)
		client.params[k] = fmt.Sprintf("v%d", i)
	}

	provider := newSSMProviderWithClient("us-east-1", client)
	result, err := provider.GetParametersBatch(context.Background(), keys)
	if err != nil {
		t.Fatalf("GetParametersBatch: %v", err)
	}
	if len(result) != 23 {
		t.Errorf("resolved %d params, want 23", len(result))
	}
	if len(client.batches) != 3 {
		t.Fatalf("made %d calls, want 3", len(client.batches))
	}
	if len(client.batches[2]) != 3 {
		t.Errorf("last batch size = %d, want 3", len(client.batches[2]))
	}
}

func TestSSMProvider_InvalidParameters(t *testing.T) {
	client := &fakeSSMClient{params: map[string]string{"/dev/push/a": "1"}}
	provider := newSSMProviderWithClient("us-east-1", client)

	_, err := provider.GetParametersBatch(context.Background(), []string{"/dev/push/a", "/dev/push/missing"})
	if err == nil {
		t.Fatal("expected error for missing parameter")
	}
}

func TestSSMProvider_ClientError(t *testing.T) {
	boom := errors.New("throttled")
	provider := newSSMProviderWithClient("us-east-1", &fakeSSMClient{err: boom})

	_, err := provider.GetParametersBatch(context.Background(), []string{"/dev/push/a"})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
}

func TestSSMProvider_EmptyKeys(t *testing.T) {
	provider := NewSSMProvider("eu-west-1")
	result, err := provider.GetParametersBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || len(result) != 0 {
		t.Errorf("expected empty non-nil map, got %v", result)
	}
	if provider.region != "eu-west-1" {
		t.Errorf("region = %q", provider.region)
	}
}

func TestSSMProvider_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeSSMClient{params: map[string]string{"/dev/push/a": "1"}}
	provider := newSSMProviderWithClient("us-east-1", client)
	if _, err := provider.GetParametersBatch(ctx, []string{"/dev/push/a"}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if len(client.batches) != 0 {
		t.Errorf("no SSM call expected after cancellation")
	}
}

func TestSSMProvider_ReportsAllInvalidParameters(t *testing.T) {
	client := &fakeSSMClient{params: map[string]string{}}
	keys := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		keys = append(keys, fmt.Sprintf("/dev/push/missing-%02d", i))
	}

	_, err := newSSMProviderWithClient("us-east-1", client).GetParametersBatch(context.Background(), keys)
	if err == nil {
		t.Fatal("expected error for missing parameters")
	}
	if len(client.batches) != 2 {
		t.Errorf("made %d calls, want 2", len(client.batches))
	}
	for _, k := range []string{"/dev/push/missing-00", "/dev/push/missing-11"} {
		if !strings.Contains(err.Error(), k) {
			t.Errorf("error should name %s: %v", k, err)
		}
	}
}

func TestNewSSMProvider_ReadsEndpoint(t *testing.T) {
	t.Setenv("AWS_ENDPOINT_URL", "http://localhost:4566")
	if p := NewSSMProvider("us-east-1"); p.endpoint != "http://localhost:4566" {
		t.Errorf("endpoint = %q", p.endpoint)
	}
}
