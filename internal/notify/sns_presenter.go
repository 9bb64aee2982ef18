package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSAPI is the subset of the SNS client the presenter uses.
type SNSAPI interface {
	CreateTopic(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPresenter renders notifications as mobile push through an SNS topic per
// channel. The topic ARN is the channel id.
type SNSPresenter struct {
	client      SNSAPI
	topicPrefix string
}

// NewSNSClient loads AWS configuration for region.
func NewSNSClient(ctx context.Context, region string) (*sns.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return sns.NewFromConfig(cfg), nil
}

// NewSNSPresenter constructs the presenter.
func NewSNSPresenter(client SNSAPI, topicPrefix string) *SNSPresenter {
	return &SNSPresenter{client: client, topicPrefix: topicPrefix}
}

// CreateChannel creates (or looks up) the topic. CreateTopic is idempotent in SNS.
func (p *SNSPresenter) CreateChannel(ctx context.Context, spec ChannelSpec) (string, error) {
	name := topicName(p.topicPrefix, spec.ID)
	out, err := p.client.CreateTopic(ctx, &sns.CreateTopicInput{
		Name: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("create topic %s: %w", name, err)
	}
	return aws.ToString(out.TopicArn), nil
}

func (p *SNSPresenter) Display(ctx context.Context, req DisplayRequest) error {
	message, err := snsMessage(req)
	if err != nil {
		return err
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn:         aws.String(req.ChannelID),
		Message:          aws.String(message),
		MessageStructure: aws.String("json"),
		Subject:          aws.String(truncate(req.Title, 100)),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", req.ChannelID, err)
	}
	return nil
}

func snsMessage(req DisplayRequest) (string, error) {
	gcm := map[string]any{
		"notification": map[string]any{
			"title": req.Title,
			"body":  req.Body,
		},
		"data": req.Data,
	}
	if a := req.Presentation.Android; a != nil {
		n := gcm["notification"].(map[string]any)
		n["android_channel_id"] = a.ChannelID
		n["sound"] = a.Sound
	}

	aps := map[string]any{
		"alert": map[string]string{"title": req.Title, "body": req.Body},
	}
	if i := req.Presentation.IOS; i != nil {
		aps["sound"] = i.Sound
	}
	apns := map[string]any{"aps": aps, "data": req.Data}

	gcmJSON, err := json.Marshal(gcm)
	if err != nil {
		return "", err
	}
	apnsJSON, err := json.Marshal(apns)
	if err != nil {
		return "", err
	}
	envelope, err := json.Marshal(map[string]string{
		"default": req.Body,
		"GCM":     string(gcmJSON),
		"APNS":    string(apnsJSON),
	})
	if err != nil {
		return "", err
	}
	return string(envelope), nil
}

func topicName(prefix, channelID string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, channelID)
	if prefix == "" {
		return clean
	}
	return prefix + "-" + clean
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
