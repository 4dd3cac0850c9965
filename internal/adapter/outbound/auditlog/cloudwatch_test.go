package auditlog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/enact-ai/enact/internal/domain/audit"
)

// fakeLogsClient records calls and replays scripted PutLogEvents results.
type fakeLogsClient struct {
	groupCalls  int
	streamCalls int
	groupErr    error
	streamErr   error

	puts    []*cloudwatchlogs.PutLogEventsInput
	putErrs []error
	nextSeq int
}

func (f *fakeLogsClient) CreateLogGroup(
	context.Context, *cloudwatchlogs.CreateLogGroupInput, ...func(*cloudwatchlogs.Options),
) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	f.groupCalls++
	return &cloudwatchlogs.CreateLogGroupOutput{}, f.groupErr
}

func (f *fakeLogsClient) CreateLogStream(
	context.Context, *cloudwatchlogs.CreateLogStreamInput, ...func(*cloudwatchlogs.Options),
) (*cloudwatchlogs.CreateLogStreamOutput, error) {
	f.streamCalls++
	return &cloudwatchlogs.CreateLogStreamOutput{}, f.streamErr
}

func (f *fakeLogsClient) PutLogEvents(
	_ context.Context, in *cloudwatchlogs.PutLogEventsInput, _ ...func(*cloudwatchlogs.Options),
) (*cloudwatchlogs.PutLogEventsOutput, error) {
	f.puts = append(f.puts, in)
	if len(f.putErrs) > 0 {
		err := f.putErrs[0]
		f.putErrs = f.putErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.nextSeq++
	return &cloudwatchlogs.PutLogEventsOutput{
		NextSequenceToken: aws.String(seqToken(f.nextSeq)),
	}, nil
}

func seqToken(n int) string {
	return "seq-" + string(rune('0'+n))
}

func TestCloudWatchSink_PreparesOnceAndChainsTokens(t *testing.T) {
	t.Parallel()

	client := &fakeLogsClient{}
	sink := NewCloudWatchSinkWithClient(CloudWatchSinkConfig{
		LogGroup:  "/enact/audit",
		LogStream: "decisions",
	}, client)

	ctx := context.Background()
	if err := sink.Log(ctx, sampleRecord("c-1")); err != nil {
		t.Fatalf("Log() error: %v", err)
	}
	if err := sink.Log(ctx, sampleRecord("c-2")); err != nil {
		t.Fatalf("Log() error: %v", err)
	}

	if client.groupCalls != 1 || client.streamCalls != 1 {
		t.Errorf("group/stream created (%d, %d) times, want once each", client.groupCalls, client.streamCalls)
	}
	if len(client.puts) != 2 {
		t.Fatalf("PutLogEvents called %d times, want 2", len(client.puts))
	}
	if client.puts[0].SequenceToken != nil {
		t.Error("first put should carry no sequence token")
	}
	if tok := client.puts[1].SequenceToken; tok == nil || *tok != seqToken(1) {
		t.Errorf("second put token = %v, want carried from first response", tok)
	}

	var rec audit.Record
	msg := *client.puts[0].LogEvents[0].Message
	if err := json.Unmarshal([]byte(msg), &rec); err != nil {
		t.Fatalf("event message not valid JSON: %v", err)
	}
	if rec.CorrelationID != "c-1" {
		t.Errorf("event correlation = %q", rec.CorrelationID)
	}
}

func TestCloudWatchSink_ToleratesExistingResources(t *testing.T) {
	t.Parallel()

	client := &fakeLogsClient{
		groupErr:  &types.ResourceAlreadyExistsException{},
		streamErr: &types.ResourceAlreadyExistsException{},
	}
	sink := NewCloudWatchSinkWithClient(CloudWatchSinkConfig{
		LogGroup:  "/enact/audit",
		LogStream: "decisions",
	}, client)

	if err := sink.Log(context.Background(), sampleRecord("c-1")); err != nil {
		t.Fatalf("Log() with existing group/stream error: %v", err)
	}
}

func TestCloudWatchSink_ResyncsInvalidSequenceToken(t *testing.T) {
	t.Parallel()

	client := &fakeLogsClient{
		putErrs: []error{&types.InvalidSequenceTokenException{
			ExpectedSequenceToken: aws.String("seq-expected"),
		}},
	}
	sink := NewCloudWatchSinkWithClient(CloudWatchSinkConfig{
		LogGroup:  "/enact/audit",
		LogStream: "decisions",
	}, client)

	if err := sink.Log(context.Background(), sampleRecord("c-1")); err != nil {
		t.Fatalf("Log() should recover from an invalid sequence token: %v", err)
	}

	if len(client.puts) != 2 {
		t.Fatalf("PutLogEvents called %d times, want rejected put plus retry", len(client.puts))
	}
	if tok := client.puts[1].SequenceToken; tok == nil || *tok != "seq-expected" {
		t.Errorf("retry token = %v, want the expected token from the rejection", tok)
	}
}
