package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"pushengine/internal/config"
	"pushengine/internal/types"
)

// ErrCredentials marks a credentials problem found before contacting
// Firebase.
var ErrCredentials = errors.New("invalid messaging credentials")

// messengerFactory builds the FCM messaging client.
type messengerFactory func(ctx context.Context, cfg *firebase.Config, opts ...option.ClientOption) (messenger, error)

// Platform initializes the messaging SDK once and hands out the shared
// Client. Initialization failures are not cached, so a later job retries.
type Platform struct {
	cfg     config.FCMConfig
	logger  types.Logger
	factory messengerFactory
	opts    []ClientOption

	mu     sync.Mutex
	client *Client
}

// NewPlatform creates a Platform from FCM config. Extra options are applied
// to the Client it builds.
func NewPlatform(cfg config.FCMConfig, logger types.Logger, opts ...ClientOption) *Platform {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Platform{
		cfg:     cfg,
		logger:  logger,
		factory: newFirebaseMessenger,
		opts:    opts,
	}
}

// Init returns the initialized Sender, creating it on first use.
func (p *Platform) Init(ctx context.Context) (Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	credOpts, err := credentialOptions(p.cfg)
	if err != nil {
		return nil, err
	}

	m, err := p.factory(ctx, &firebase.Config{ProjectID: p.cfg.ProjectID}, credOpts...)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase messaging: %w", err)
	}

	opts := append([]ClientOption{
		WithLogger(p.logger),
		WithSendTimeout(p.cfg.SendTimeout),
	}, p.opts...)
	p.client = NewClient(m, opts...)

	p.logger.Info("push platform initialized", "project_id", p.cfg.ProjectID)
	return p.client, nil
}

// credentialOptions picks file, inline JSON, or no option for Application
// Default Credentials.
func credentialOptions(cfg config.FCMConfig) ([]option.ClientOption, error) {
	switch {
	case cfg.CredentialsFile != "":
		return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}, nil
	case !cfg.CredentialsJSON.IsZero():
		raw := []byte(cfg.CredentialsJSON.Unmask())
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%w: FCM_CREDENTIALS_JSON is not valid JSON", ErrCredentials)
		}
		return []option.ClientOption{option.WithCredentialsJSON(raw)}, nil
	default:
		return nil, nil
	}
}

func newFirebaseMessenger(ctx context.Context, cfg *firebase.Config, opts ...option.ClientOption) (messenger, error) {
	app, err := firebase.NewApp(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating messaging client: %w", err)
	}
	return client, nil
}
