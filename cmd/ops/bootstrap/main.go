// Package main implements the bootstrap CLI for the push engine.
//
// It seeds AWS SSM Parameter Store with the secrets the Lambda functions
// resolve at cold start, then prints the _SSM_PARAM pointer variables to put
// in the function environment.
//
// Usage:
//
//	BOOTSTRAP_DATABASE_URL=postgres://... \
//	  go run ./cmd/ops/bootstrap --env=dev --fcm-credentials=./sa.json
//	go run ./cmd/ops/bootstrap --env=prod --profile=push-prod --overwrite
//
// Secret values are read from the operator's environment or from files and
// are never echoed. Parameters that already exist are kept unless
// --overwrite is given.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

// Session holds what the bootstrap run learned about its AWS target.
type Session struct {
	Environment string
	Region      string
	Profile     string
	AccountID   string
	CallerARN   string
	AWSConfig   aws.Config
}

func main() {
	envFlag := flag.String("env", "", "Target environment (dev/staging/prod) [required]")
	profileFlag := flag.String("profile", "", "AWS CLI profile (default: credential chain)")
	regionFlag := flag.String("region", "us-east-1", "AWS region")
	endpointFlag := flag.String("endpoint", "", "SSM endpoint override, e.g. LocalStack")
	overwriteFlag := flag.Bool("overwrite", false, "Replace parameters that already exist")
	fcmFlag := flag.String("fcm-credentials", "", "Path to the FCM service account JSON")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Push Engine Bootstrap Tool\n\n")
		fmt.Fprintf(os.Stderr, "Writes SSM parameters required before the first deployment.\n\n")
		fmt.Fprintf(os.Stderr, "Environment:\n")
		fmt.Fprintf(os.Stderr, "  BOOTSTRAP_DATABASE_URL    Postgres connection string\n")
		fmt.Fprintf(os.Stderr, "  BOOTSTRAP_REDIS_PASSWORD  Lease store password (optional)\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *envFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --env is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if !validEnvironments[*envFlag] {
		fmt.Fprintf(os.Stderr, "error: invalid environment %q (must be dev, staging, or prod)\n", *envFlag)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := initializeSession(ctx, *envFlag, *profileFlag, *regionFlag, logger)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	if sess.Environment == "prod" && !confirmProduction(sess, os.Stdin, os.Stderr) {
		fmt.Fprintln(os.Stderr, "Aborted. No changes were made.")
		os.Exit(0)
	}

	client := ssm.NewFromConfig(sess.AWSConfig, func(o *ssm.Options) {
		if *endpointFlag != "" {
			o.BaseEndpoint = aws.String(*endpointFlag)
		}
	})
	mgr := NewSSMManager(client, sess.Environment, logger)

	inputs := Inputs{
		DatabaseURL:        os.Getenv("BOOTSTRAP_DATABASE_URL"),
		RedisPassword:      os.Getenv("BOOTSTRAP_REDIS_PASSWORD"),
		FCMCredentialsFile: *fcmFlag,
	}

	results, err := Bootstrap(ctx, mgr, inputs, *overwriteFlag)
	printSummary(os.Stderr, sess, results)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	// Pointer variables go to stdout so they can be redirected into a
	// deployment env file.
	for _, line := range EnvLines(results) {
		fmt.Fprintln(os.Stdout, line)
	}
}

// initializeSession loads the AWS configuration and confirms the caller
// identity with STS before anything is written.
func initializeSession(ctx context.Context, env, profile, region string, logger *slog.Logger) (*Session, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	identityCtx, identityCancel := context.WithTimeout(ctx, 10*time.Second)
	defer identityCancel()

	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(identityCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("verifying AWS identity (STS GetCallerIdentity): %w\n"+
			"  Check that your AWS credentials are configured correctly.\n"+
			"  Profile: %q, Region: %q", err, profile, region)
	}

	sess := &Session{
		Environment: env,
		Region:      region,
		Profile:     profile,
		AccountID:   aws.ToString(identity.Account),
		CallerARN:   aws.ToString(identity.Arn),
		AWSConfig:   cfg,
	}
	logger.Info("AWS identity verified",
		"account_id", sess.AccountID,
		"arn", sess.CallerARN,
		"region", region,
	)
	return sess, nil
}

// confirmProduction returns true only if the operator types "yes".
func confirmProduction(sess *Session, in io.Reader, out io.Writer) bool {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "============================================================")
	fmt.Fprintln(out, "  WARNING: You are targeting the PRODUCTION environment")
	fmt.Fprintln(out, "============================================================")
	fmt.Fprintf(out, "  Account: %s\n", sess.AccountID)
	fmt.Fprintf(out, "  Region:  %s\n", sess.Region)
	fmt.Fprintf(out, "  ARN:     %s\n", sess.CallerARN)
	fmt.Fprintln(out, "============================================================")
	fmt.Fprint(out, "Type 'yes' to continue: ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(scanner.Text()), "yes")
}

func printSummary(w io.Writer, sess *Session, results []Result) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "------------------------------------------------------------")
	fmt.Fprintf(w, "  Push Engine Bootstrap (%s, account %s, %s)\n", sess.Environment, sess.AccountID, sess.Region)
	fmt.Fprintln(w, "------------------------------------------------------------")
	for _, r := range results {
		fmt.Fprintf(w, "  %-10s %s\n", r.Outcome, r.Path)
	}
	fmt.Fprintln(w, "------------------------------------------------------------")
}
