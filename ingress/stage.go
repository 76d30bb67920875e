package ingress

import (
	"context"
	"errors"

	"github.com/FerroO2000/elastico"
	"github.com/FerroO2000/elastico/internal/config"
	"github.com/FerroO2000/elastico/internal/telemetry"
)

type source[Out msgEnv] interface {
	setTelemetry(tel *telemetry.Telemetry)
	run(ctx context.Context, out sendPort[Out])
}

type stage[Out msgEnv, Cfg cfg] struct {
	tel *telemetry.Telemetry

	cfg Cfg

	source source[Out]

	out sendPort[Out]

	runDone chan struct{}
}

func newStage[Out msgEnv, Cfg cfg](name string, source source[Out], out sendPort[Out], cfg Cfg) *stage[Out, Cfg] {
	tel := telemetry.NewTelemetry("ingress", name)
	source.setTelemetry(tel)

	return &stage[Out, Cfg]{
		tel: tel,

		cfg: cfg,

		source: source,

		out: out,

		runDone: make(chan struct{}),
	}
}

func (s *stage[Out, Cfg]) Init(_ context.Context) error {
	s.tel.LogInfo("initializing")

	configValidator := config.NewValidator(s.tel)
	configValidator.Validate(s.cfg)

	return nil
}

func (s *stage[Out, Cfg]) Run(ctx context.Context) {
	s.tel.LogInfo("running")

	s.source.run(ctx, s.out)

	close(s.runDone)
}

func (s *stage[Out, Cfg]) Close() {
	s.tel.LogInfo("closing")

	// The sender must not be closed while the source is still producing
	<-s.runDone

	if err := s.out.Close(); err != nil && !errors.Is(err, elastico.ErrClosed) {
		s.tel.LogError("failed to close output channel", err)
	}
}
