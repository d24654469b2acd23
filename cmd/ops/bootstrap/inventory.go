package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
)

// Inputs are the operator-supplied secret sources.
type Inputs struct {
	DatabaseURL        string
	RedisPassword      string
	FCMCredentialsFile string
}

// Outcome describes what happened to one parameter.
type Outcome string

const (
	OutcomeWritten Outcome = "written"
	OutcomeKept    Outcome = "kept"
	OutcomeSkipped Outcome = "skipped"
)

// Result is the per-parameter record of a bootstrap run.
type Result struct {
	Key     string
	Path    string
	EnvVar  string
	Outcome Outcome
}

// parameter is one entry of the secret inventory.
type parameter struct {
	key      string
	envVar   string
	secure   bool
	optional bool
	value    func(m *material) (string, error)
}

// material holds the validated inputs the inventory draws from.
type material struct {
	inputs Inputs
	fcm    *serviceAccount
	raw    []byte
}

// serviceAccount is the subset of a Google service account key the FCM
// platform needs.
type serviceAccount struct {
	Type        string `json:"type" validate:"required,eq=service_account"`
	ProjectID   string `json:"project_id" validate:"required"`
	ClientEmail string `json:"client_email" validate:"required,email"`
	PrivateKey  string `json:"private_key" validate:"required"`
}

var errMissingInput = errors.New("missing input")

// inventory lists every parameter the Lambda functions resolve through an
// _SSM_PARAM pointer.
var inventory = []parameter{
	{
		key:    "database/url",
		envVar: "DATABASE_URL",
		secure: true,
		value: func(m *material) (string, error) {
			if m.inputs.DatabaseURL == "" {
				return "", fmt.Errorf("%w: set BOOTSTRAP_DATABASE_URL", errMissingInput)
			}
			// The parse error may quote the URL, so it is not wrapped.
			if _, err := pgx.ParseConfig(m.inputs.DatabaseURL); err != nil {
				return "", fmt.Errorf("BOOTSTRAP_DATABASE_URL is not a valid Postgres connection string")
			}
			return m.inputs.DatabaseURL, nil
		},
	},
	{
		key:    "security/admin_api_key",
		envVar: "ADMIN_API_KEY",
		secure: true,
		value: func(*material) (string, error) {
			return GenerateSecureToken()
		},
	},
	{
		key:    "fcm/credentials_json",
		envVar: "FCM_CREDENTIALS_JSON",
		secure: true,
		value: func(m *material) (string, error) {
			if m.fcm == nil {
				return "", fmt.Errorf("%w: pass --fcm-credentials", errMissingInput)
			}
			return string(m.raw), nil
		},
	},
	{
		key:    "fcm/project_id",
		envVar: "FCM_PROJECT_ID",
		value: func(m *material) (string, error) {
			if m.fcm == nil {
				return "", fmt.Errorf("%w: pass --fcm-credentials", errMissingInput)
			}
			return m.fcm.ProjectID, nil
		},
	},
	{
		key:      "redis/password",
		envVar:   "REDIS_PASSWORD",
		secure:   true,
		optional: true,
		value: func(m *material) (string, error) {
			return m.inputs.RedisPassword, nil
		},
	},
}

// loadServiceAccount reads and validates an FCM service account key file.
func loadServiceAccount(path string) (*serviceAccount, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading FCM credentials: %w", err)
	}
	var sa serviceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, nil, fmt.Errorf("FCM credentials are not valid JSON: %w", err)
	}
	if err := validator.New().Struct(sa); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return nil, nil, fmt.Errorf("FCM credentials are not a service account key (check %s)", strings.Join(fields, ", "))
		}
		return nil, nil, err
	}
	return &sa, raw, nil
}

// Bootstrap writes every inventory parameter that is missing, or all of them
// when overwrite is set. Existing parameters are kept otherwise, so the run
// is safe to repeat. The results gathered before a failure are returned
// with the error.
func Bootstrap(ctx context.Context, mgr *SSMManager, inputs Inputs, overwrite bool) ([]Result, error) {
	m := &material{inputs: inputs}
	if inputs.FCMCredentialsFile != "" {
		sa, raw, err := loadServiceAccount(inputs.FCMCredentialsFile)
		if err != nil {
			return nil, err
		}
		m.fcm, m.raw = sa, raw
	}

	results := make([]Result, 0, len(inventory))
	for _, p := range inventory {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := Result{Key: p.key, Path: mgr.SSMPath(p.key), EnvVar: p.envVar}

		exists, err := mgr.ParameterExists(ctx, res.Path)
		if err != nil {
			return results, err
		}
		if exists && !overwrite {
			res.Outcome = OutcomeKept
			results = append(results, res)
			continue
		}

		value, err := p.value(m)
		if err != nil {
			return results, fmt.Errorf("%s: %w", p.key, err)
		}
		if value == "" {
			if !p.optional {
				return results, fmt.Errorf("%s: %w", p.key, errMissingInput)
			}
			res.Outcome = OutcomeSkipped
			results = append(results, res)
			continue
		}

		if p.secure {
			err = mgr.PutSecret(ctx, res.Path, value, exists)
		} else {
			err = mgr.PutString(ctx, res.Path, value)
		}
		if err != nil {
			return results, err
		}
		res.Outcome = OutcomeWritten
		results = append(results, res)
	}
	return results, nil
}

// EnvLines renders the _SSM_PARAM pointers for every parameter present in
// SSM after the run, sorted by variable name.
func EnvLines(results []Result) []string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		if r.Outcome == OutcomeSkipped {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s_SSM_PARAM=%s", r.EnvVar, r.Path))
	}
	sort.Strings(lines)
	return lines
}
