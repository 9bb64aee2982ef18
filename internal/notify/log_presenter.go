package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/marshal-client/internal/domain"
)

// LogPresenter writes shell commands to the log. Used on the web platform
// and in development.
type LogPresenter struct {
	logger *zap.Logger
}

// NewLogPresenter constructs the presenter.
func NewLogPresenter(logger *zap.Logger) *LogPresenter {
	return &LogPresenter{logger: logger.Named("presenter")}
}

func (p *LogPresenter) CreateChannel(_ context.Context, spec ChannelSpec) (string, error) {
	p.logger.Info("create channel", zap.String("channel_id", spec.ID), zap.String("importance", spec.Importance))
	return spec.ID, nil
}

func (p *LogPresenter) Display(_ context.Context, req DisplayRequest) error {
	p.logger.Info("display notification",
		zap.String("channel_id", req.ChannelID),
		zap.String("title", req.Title),
		zap.Any("data", req.Data))
	return nil
}

func (p *LogPresenter) SetBadge(_ context.Context, count int) error {
	p.logger.Info("set badge", zap.Int("count", count))
	return nil
}

func (p *LogPresenter) Navigate(_ context.Context, target domain.NavigationTarget) error {
	p.logger.Info("navigate", zap.String("route", string(target.Route)), zap.Any("params", target.Params))
	return nil
}
