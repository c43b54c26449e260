package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lgandecki/slashcmd/internal/model"
	"github.com/lgandecki/slashcmd/internal/quota"
	"github.com/lgandecki/slashcmd/internal/upstream"
)

// streamBuffer はイベントチャネルの容量。
// 1リクエストで流れるイベント数の上限（4件）を超えるため、生成側は読み手を待たずに終われる。
const streamBuffer = 5

// 実行結果。メトリクスのラベルに使う。
const (
	OutcomeSuccess       = "success"
	OutcomeCommandFailed = "command_failed"
	OutcomeExplainFailed = "explain_failed"
)

// CommandGenerator は自然言語のクエリからコマンドを生成する。
type CommandGenerator interface {
	Generate(ctx context.Context, query string) (*upstream.CommandResult, error)
}

// Explainer はコマンドの説明を生成する。
type Explainer interface {
	Explain(ctx context.Context, command string, style upstream.Style) (string, error)
}

// QuotaTracker は実効階層の解決、クォータ確認、利用回数の加算を行う。
type QuotaTracker interface {
	ResolveTier(ctx context.Context, subjectID string, tokenTier model.Tier) model.Tier
	Check(ctx context.Context, subjectID string, tier model.Tier) (model.QuotaStatus, error)
	Increment(ctx context.Context, subjectID string, tier model.Tier) error
}

// TaskRunner はレスポンス返却後も継続するタスクを起動する。
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context)) error
}

// Recorder はパイプラインの実行結果を記録する。
type Recorder interface {
	RecordCommand(outcome string)
	RecordQuotaRejection()
}

type nopRecorder struct{}

func (nopRecorder) RecordCommand(string)  {}
func (nopRecorder) RecordQuotaRejection() {}

// Request はコマンド生成リクエスト。
type Request struct {
	Query string
	Style upstream.Style
}

// Admission はクォータ確認の結果。Allowedがfalseの場合は上流を呼び出してはならない。
type Admission struct {
	Identity model.Identity
	Tier     model.Tier
	Status   model.QuotaStatus
}

// Allowed はリクエストを実行してよいかを返す。
func (a *Admission) Allowed() bool {
	return a.Status.Allowed
}

// Pipeline はコマンド生成パイプライン。
type Pipeline struct {
	generator CommandGenerator
	explainer Explainer
	quota     QuotaTracker
	tasks     TaskRunner
	recorder  Recorder
	logger    *slog.Logger
}

// New はPipelineを生成する。recorderがnilの場合は記録しない。
func New(
	generator CommandGenerator,
	explainer Explainer,
	quota QuotaTracker,
	tasks TaskRunner,
	recorder Recorder,
	logger *slog.Logger,
) *Pipeline {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Pipeline{
		generator: generator,
		explainer: explainer,
		quota:     quota,
		tasks:     tasks,
		recorder:  recorder,
		logger:    logger,
	}
}

// Admit は実効階層を解決してクォータを確認する。
// 上限に達している場合もエラーにはせず、Allowedがfalseのアドミッションを返す。
func (p *Pipeline) Admit(ctx context.Context, identity model.Identity) (*Admission, error) {
	tier := p.quota.ResolveTier(ctx, identity.SubjectID, identity.Tier)

	status, err := p.quota.Check(ctx, identity.SubjectID, tier)
	if err != nil {
		return nil, fmt.Errorf("クォータの確認に失敗: %w", err)
	}

	if !status.Allowed {
		p.recorder.RecordQuotaRejection()
		p.logger.Info("無料枠の上限に達したためリクエストを拒否しました",
			slog.String("subject", identity.SubjectID),
			slog.Int("usage", status.Usage),
			slog.Int("limit", status.Limit),
		)
	}

	return &Admission{Identity: identity, Tier: tier, Status: status}, nil
}

// Run はパイプラインをバックグラウンドで開始し、イベントのチャネルを返す。
// チャネルはcommand, explanation, usage, doneの順、または途中でerrorを1件流して閉じる。
// 呼び出し元のコンテキストがキャンセルされても処理は継続し、
// commandイベントを流した場合はチャネルを閉じた後に利用回数を1加算する。
func (p *Pipeline) Run(ctx context.Context, admission *Admission, req Request) (<-chan Event, error) {
	events := make(chan Event, streamBuffer)
	runCtx := context.WithoutCancel(ctx)

	err := p.tasks.Go("command_pipeline", func(context.Context) {
		p.produce(runCtx, admission, req, events)
	})
	if err != nil {
		return nil, fmt.Errorf("パイプラインの開始に失敗: %w", err)
	}
	return events, nil
}

func (p *Pipeline) produce(ctx context.Context, admission *Admission, req Request, events chan<- Event) {
	subject := admission.Identity.SubjectID
	delivered := false

	defer func() {
		close(events)
		if delivered {
			p.increment(ctx, admission)
		}
	}()

	result, err := p.generator.Generate(ctx, req.Query)
	if err != nil {
		p.fail(events, subject, OutcomeCommandFailed, "command generation failed", err)
		return
	}
	events <- Event{Name: EventCommand, Data: CommandPayload{Command: result.Command, Safe: result.Safe}}
	delivered = true

	text, err := p.explainer.Explain(ctx, result.Command, req.Style)
	if err != nil {
		p.fail(events, subject, OutcomeExplainFailed, "explanation failed", err)
		return
	}
	events <- Event{Name: EventExplanation, Data: ExplanationPayload{Text: strings.TrimSpace(text)}}

	after := quota.AfterIncrement(admission.Status)
	events <- Event{Name: EventUsage, Data: UsagePayload{
		Usage:   after.Usage,
		Limit:   after.Limit,
		Tier:    string(admission.Tier),
		Warning: after.Warning,
	}}
	events <- Event{Name: EventDone, Data: DonePayload{}}

	p.recorder.RecordCommand(OutcomeSuccess)
}

func (p *Pipeline) fail(events chan<- Event, subject, outcome, prefix string, err error) {
	p.recorder.RecordCommand(outcome)
	p.logger.Error("コマンドパイプラインが失敗しました",
		slog.String("subject", subject),
		slog.String("outcome", outcome),
		slog.String("error", err.Error()),
	)
	events <- Event{Name: EventError, Data: ErrorPayload{Message: prefix + ": " + err.Error()}}
}

func (p *Pipeline) increment(ctx context.Context, admission *Admission) {
	if err := p.quota.Increment(ctx, admission.Identity.SubjectID, admission.Tier); err != nil {
		p.logger.Error("利用回数の加算に失敗しました",
			slog.String("subject", admission.Identity.SubjectID),
			slog.String("error", err.Error()),
		)
	}
}

// IncrementInBackground は利用回数の加算をバックグラウンドで行う。
// レスポンスの送信を待たせない旧APIのプロキシ経路で使う。
func (p *Pipeline) IncrementInBackground(ctx context.Context, admission *Admission) {
	runCtx := context.WithoutCancel(ctx)
	if err := p.tasks.Go("usage_increment", func(context.Context) {
		p.increment(runCtx, admission)
	}); err != nil {
		p.logger.Warn("利用回数の加算を開始できませんでした",
			slog.String("subject", admission.Identity.SubjectID),
			slog.String("error", err.Error()),
		)
	}
}
