package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/marshal-client/internal/config"
	"github.com/spec-kit/marshal-client/internal/domain"
)

var testSpec = ChannelSpec{ID: "marshal-default", Name: "Marshal", Importance: "high", Sound: "default"}

type recordingPresenter struct {
	createErrs []error
	creates    int
	displayed  []DisplayRequest
}

func (p *recordingPresenter) CreateChannel(_ context.Context, spec ChannelSpec) (string, error) {
	p.creates++
	if len(p.createErrs) > 0 {
		err := p.createErrs[0]
		p.createErrs = p.createErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return spec.ID, nil
}

func (p *recordingPresenter) Display(_ context.Context, req DisplayRequest) error {
	p.displayed = append(p.displayed, req)
	return nil
}

func TestChannel_EnsureChannelCreatesOnce(t *testing.T) {
	presenter := &recordingPresenter{}
	ch := NewChannel(presenter, testSpec, config.PlatformAndroid, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := ch.EnsureChannel(ctx)
		require.NoError(t, err)
		assert.Equal(t, "marshal-default", id)
	}
	assert.Equal(t, 1, presenter.creates)
}

func TestChannel_FailedCreationIsRetried(t *testing.T) {
	presenter := &recordingPresenter{createErrs: []error{errors.New("no permission")}}
	ch := NewChannel(presenter, testSpec, config.PlatformAndroid, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := ch.EnsureChannel(ctx)
	assert.ErrorIs(t, err, ErrChannelUnavailable)

	id, err := ch.EnsureChannel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "marshal-default", id)
	assert.Equal(t, 2, presenter.creates)
}

func TestChannel_DisplayPresentationPerPlatform(t *testing.T) {
	tests := []struct {
		platform    string
		wantAndroid bool
		wantIOS     bool
	}{
		{platform: config.PlatformAndroid, wantAndroid: true},
		{platform: config.PlatformIOS, wantIOS: true},
		{platform: config.PlatformWeb},
	}

	for _, tt := range tests {
		t.Run(tt.platform, func(t *testing.T) {
			presenter := &recordingPresenter{}
			ch := NewChannel(presenter, testSpec, tt.platform, zaptest.NewLogger(t))

			err := ch.Display(context.Background(), Notification{Title: "New event", Body: "Marathon", Data: map[string]string{"eventId": "7"}})
			require.NoError(t, err)
			require.Len(t, presenter.displayed, 1)

			req := presenter.displayed[0]
			assert.Equal(t, "marshal-default", req.ChannelID)
			assert.Equal(t, "New event", req.Title)
			assert.Equal(t, tt.wantAndroid, req.Presentation.Android != nil)
			assert.Equal(t, tt.wantIOS, req.Presentation.IOS != nil)
			if tt.wantAndroid {
				assert.Equal(t, "high", req.Presentation.Android.Importance)
				assert.Equal(t, "default", req.Presentation.Android.PressAction)
			}
			if tt.wantIOS {
				assert.True(t, req.Presentation.IOS.ForegroundPresentation.Alert)
				assert.True(t, req.Presentation.IOS.ForegroundPresentation.Badge)
				assert.True(t, req.Presentation.IOS.ForegroundPresentation.Sound)
			}
		})
	}
}

func TestChannel_DisplayFailsWhenChannelUnavailable(t *testing.T) {
	presenter := &recordingPresenter{createErrs: []error{errors.New("boom")}}
	ch := NewChannel(presenter, testSpec, config.PlatformAndroid, zaptest.NewLogger(t))

	err := ch.Display(context.Background(), Notification{Title: "t", Body: "b"})
	assert.ErrorIs(t, err, ErrChannelUnavailable)
	assert.Empty(t, presenter.displayed)
}

func newStreamPresenter(t *testing.T) (*StreamPresenter, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStreamPresenter(client, "shell:commands"), client
}

func TestStreamPresenter_WritesCommands(t *testing.T) {
	presenter, client := newStreamPresenter(t)
	ctx := context.Background()

	id, err := presenter.CreateChannel(ctx, testSpec)
	require.NoError(t, err)
	assert.Equal(t, "marshal-default", id)

	// second registration does not emit another command
	_, err = presenter.CreateChannel(ctx, testSpec)
	require.NoError(t, err)

	require.NoError(t, presenter.Display(ctx, DisplayRequest{Notification: Notification{Title: "Hello"}, ChannelID: id}))
	require.NoError(t, presenter.SetBadge(ctx, 3))
	require.NoError(t, presenter.Navigate(ctx, domain.NavigationTarget{
		Route:  domain.RouteEventDetails,
		Params: map[string]string{"eventId": "7"},
	}))

	msgs, err := client.XRange(ctx, "shell:commands", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	var types []string
	for _, m := range msgs {
		types = append(types, m.Values["type"].(string))
	}
	assert.Equal(t, []string{CommandCreateChannel, CommandDisplay, CommandBadge, CommandNavigate}, types)

	var badge map[string]int
	require.NoError(t, json.Unmarshal([]byte(msgs[2].Values["payload"].(string)), &badge))
	assert.Equal(t, 3, badge["count"])

	var target domain.NavigationTarget
	require.NoError(t, json.Unmarshal([]byte(msgs[3].Values["payload"].(string)), &target))
	assert.Equal(t, domain.RouteEventDetails, target.Route)
	assert.Equal(t, "7", target.Params["eventId"])
}

type mockSNS struct {
	CreateTopicFunc func(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	PublishFunc     func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *mockSNS) CreateTopic(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error) {
	return m.CreateTopicFunc(ctx, params, optFns...)
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

func TestSNSPresenter_CreateAndPublish(t *testing.T) {
	var published *sns.PublishInput
	client := &mockSNS{
		CreateTopicFunc: func(_ context.Context, params *sns.CreateTopicInput, _ ...func(*sns.Options)) (*sns.CreateTopicOutput, error) {
			assert.Equal(t, "marshal-marshal-default", aws.ToString(params.Name))
			return &sns.CreateTopicOutput{TopicArn: aws.String("arn:aws:sns:eu-west-1:1:marshal-marshal-default")}, nil
		},
		PublishFunc: func(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
			published = params
			return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
		},
	}

	ch := NewChannel(NewSNSPresenter(client, "marshal"), testSpec, config.PlatformAndroid, zaptest.NewLogger(t))
	err := ch.Display(context.Background(), Notification{Title: "Briefing", Body: "Gate 3", Data: map[string]string{"eventId": "7"}})
	require.NoError(t, err)

	require.NotNil(t, published)
	assert.Equal(t, "arn:aws:sns:eu-west-1:1:marshal-marshal-default", aws.ToString(published.TopicArn))
	assert.Equal(t, "json", aws.ToString(published.MessageStructure))

	var envelope map[string]string
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(published.Message)), &envelope))
	assert.Equal(t, "Gate 3", envelope["default"])

	var gcm struct {
		Notification map[string]string `json:"notification"`
		Data         map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(envelope["GCM"]), &gcm))
	assert.Equal(t, "Briefing", gcm.Notification["title"])
	assert.Equal(t, "arn:aws:sns:eu-west-1:1:marshal-marshal-default", gcm.Notification["android_channel_id"])
	assert.Equal(t, "7", gcm.Data["eventId"])
	assert.Contains(t, envelope["APNS"], `"aps"`)
}

func TestSNSPresenter_CreateTopicError(t *testing.T) {
	client := &mockSNS{
		CreateTopicFunc: func(context.Context, *sns.CreateTopicInput, ...func(*sns.Options)) (*sns.CreateTopicOutput, error) {
			return nil, errors.New("access denied")
		},
	}
	_, err := NewSNSPresenter(client, "").CreateChannel(context.Background(), testSpec)
	assert.ErrorContains(t, err, "access denied")
}

func TestTopicName(t *testing.T) {
	assert.Equal(t, "marshal-default", topicName("", "marshal-default"))
	assert.Equal(t, "p-a-b-c", topicName("p", "a.b/c"))
}
