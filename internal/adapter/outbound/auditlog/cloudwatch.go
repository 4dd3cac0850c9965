package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/enact-ai/enact/internal/domain/audit"
)

// logsClient defines the CloudWatch Logs operations used by CloudWatchSink.
// This interface allows for mocking in tests.
type logsClient interface {
	CreateLogGroup(
		ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options),
	) (*cloudwatchlogs.CreateLogGroupOutput, error)
	CreateLogStream(
		ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options),
	) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(
		ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options),
	) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatchSinkConfig configures a CloudWatchSink.
type CloudWatchSinkConfig struct {
	// Region is the AWS region. Empty uses the default credential chain's
	// region.
	Region string
	// LogGroup is the destination log group name.
	LogGroup string
	// LogStream is the destination log stream name.
	LogStream string
}

// CloudWatchSink writes each audit record as one log event. The log group
// and stream are created on the first write, and the sequence token
// returned by each put is carried into the next.
type CloudWatchSink struct {
	cfg    CloudWatchSinkConfig
	client logsClient

	mu       sync.Mutex
	prepared bool
	nextSeq  *string
}

// NewCloudWatchSink creates a CloudWatchSink using the default AWS
// credential chain.
func NewCloudWatchSink(ctx context.Context, cfg CloudWatchSinkConfig) (*CloudWatchSink, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewCloudWatchSinkWithClient(cfg, cloudwatchlogs.NewFromConfig(awsCfg)), nil
}

// NewCloudWatchSinkWithClient creates a CloudWatchSink over an existing
// client. Tests use this with a mock.
func NewCloudWatchSinkWithClient(cfg CloudWatchSinkConfig, client logsClient) *CloudWatchSink {
	return &CloudWatchSink{cfg: cfg, client: client}
}

// Log writes the record as a single log event.
func (s *CloudWatchSink) Log(ctx context.Context, rec audit.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.prepareLocked(ctx); err != nil {
		return err
	}

	out, err := s.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(s.cfg.LogGroup),
		LogStreamName: aws.String(s.cfg.LogStream),
		SequenceToken: s.nextSeq,
		LogEvents: []types.InputLogEvent{{
			Timestamp: aws.Int64(rec.Timestamp.UnixMilli()),
			Message:   aws.String(string(body)),
		}},
	})
	if err != nil {
		var invalidSeq *types.InvalidSequenceTokenException
		if errors.As(err, &invalidSeq) {
			// Another writer advanced the stream; resync and retry once.
			s.nextSeq = invalidSeq.ExpectedSequenceToken
			out, err = s.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
				LogGroupName:  aws.String(s.cfg.LogGroup),
				LogStreamName: aws.String(s.cfg.LogStream),
				SequenceToken: s.nextSeq,
				LogEvents: []types.InputLogEvent{{
					Timestamp: aws.Int64(rec.Timestamp.UnixMilli()),
					Message:   aws.String(string(body)),
				}},
			})
		}
		if err != nil {
			return fmt.Errorf("put log events: %w", err)
		}
	}

	s.nextSeq = out.NextSequenceToken
	return nil
}

// prepareLocked creates the log group and stream on the first write.
// Lock must be held.
func (s *CloudWatchSink) prepareLocked(ctx context.Context) error {
	if s.prepared {
		return nil
	}

	_, err := s.client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(s.cfg.LogGroup),
	})
	if err != nil && !alreadyExists(err) {
		return fmt.Errorf("create log group: %w", err)
	}

	_, err = s.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(s.cfg.LogGroup),
		LogStreamName: aws.String(s.cfg.LogStream),
	})
	if err != nil && !alreadyExists(err) {
		return fmt.Errorf("create log stream: %w", err)
	}

	s.prepared = true
	return nil
}

// alreadyExists reports whether the error is a resource-exists conflict.
func alreadyExists(err error) bool {
	var exists *types.ResourceAlreadyExistsException
	return errors.As(err, &exists)
}

// Compile-time interface verification.
var _ audit.Auditor = (*CloudWatchSink)(nil)
