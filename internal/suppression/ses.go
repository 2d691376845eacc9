// Package suppression consults the AWS SES v2 account-level suppression
// list. An address that SES suppressed after a hard bounce is known not to
// exist, so it can be classified without opening an SMTP connection.
package suppression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// Config holds the configuration for creating a Checker.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// GetSuppressedDestinationAPI is the interface for the SES v2
// GetSuppressedDestination operation.
type GetSuppressedDestinationAPI interface {
	GetSuppressedDestination(ctx context.Context, params *sesv2.GetSuppressedDestinationInput, optFns ...func(*sesv2.Options)) (*sesv2.GetSuppressedDestinationOutput, error)
}

// Checker looks addresses up in the SES suppression list.
type Checker struct {
	client    GetSuppressedDestinationAPI
	baseDelay time.Duration
}

// New creates a Checker using the default AWS credential chain, or static
// credentials when both keys are set.
func New(ctx context.Context, cfg Config) (*Checker, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a Checker with a custom client.
func NewWithClient(client GetSuppressedDestinationAPI) *Checker {
	return &Checker{client: client, baseDelay: baseRetryDelay}
}

// IsSuppressed reports whether addr is on the suppression list because of
// a bounce. Complaint suppressions say nothing about whether the mailbox
// exists and are ignored.
func (c *Checker) IsSuppressed(ctx context.Context, addr string) (bool, error) {
	input := &sesv2.GetSuppressedDestinationInput{
		EmailAddress: aws.String(addr),
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES suppression lookup",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
			if err := sleepWithContext(ctx, c.backoffDelay(attempt)); err != nil {
				return false, fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		out, err := c.client.GetSuppressedDestination(ctx, input)
		if err == nil {
			return isBounce(out), nil
		}

		var notFound *types.NotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		lastErr = err
		slog.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)
	}

	return false, fmt.Errorf("SES suppression lookup failed after %d retries: %w", maxRetries, lastErr)
}

func isBounce(out *sesv2.GetSuppressedDestinationOutput) bool {
	if out == nil || out.SuppressedDestination == nil {
		return false
	}
	return out.SuppressedDestination.Reason == types.SuppressionListReasonBounce
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
func (c *Checker) backoffDelay(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
