package cli

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bidflow/mailtrack/internal/config"
	"github.com/bidflow/mailtrack/internal/extractor"
	"github.com/bidflow/mailtrack/internal/logstore"
	"github.com/bidflow/mailtrack/internal/mailer"
	"github.com/bidflow/mailtrack/internal/matcher"
	"github.com/bidflow/mailtrack/internal/poller"
	"github.com/bidflow/mailtrack/internal/sender"
	"github.com/bidflow/mailtrack/internal/services"
	"github.com/bidflow/mailtrack/internal/session"
	"github.com/bidflow/mailtrack/internal/telemetry"
	"github.com/bidflow/mailtrack/internal/token"
)

// defaultTemplate is used when no template_path is configured.
const defaultTemplate = `<html><body>
<p>Dear {{.SupplierName}},</p>
<p>We are inviting quotes for collection {{.CollectionID}}: {{.ProductDesc}}.</p>
<p>Please keep the reference {{.Token}} in your reply.</p>
</body></html>`

type deps struct {
	cfg      config.Config
	store    *logstore.Store
	service  *services.SessionService
	logger   *slog.Logger
	shutdown func(context.Context) error
}

func (d *deps) close(ctx context.Context) {
	if d.service != nil {
		d.service.Stop()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("failed to close log store", "error", err)
		}
	}
	if d.shutdown != nil {
		if err := d.shutdown(ctx); err != nil {
			d.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
}

// buildStoreDeps wires config, logging, and the log store: enough for
// read-only commands.
func buildStoreDeps(ctx context.Context, cmd *cobra.Command) (*deps, error) {
	cfgPath, err := resolveConfigPath(cmd)
	if err != nil {
		return nil, err
	}

	// The env file is optional; credentials may come from the real env.
	_ = godotenv.Load(defaultEnvFile)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	d := &deps{cfg: cfg}
	if telemetry.Enabled() {
		shutdown, err := telemetry.SetupOTelSDK(ctx)
		if err != nil {
			return nil, err
		}
		d.shutdown = shutdown
		d.logger = slog.New(telemetry.SlogHandler())
	} else {
		d.logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	store, err := logstore.Open(ctx, cfg.DBPath)
	if err != nil {
		d.close(ctx)
		return nil, err
	}
	d.store = store
	return d, nil
}

// buildSessionDeps additionally wires the mail capabilities and the
// serialized session service.
func buildSessionDeps(ctx context.Context, cmd *cobra.Command) (*deps, error) {
	d, err := buildStoreDeps(ctx, cmd)
	if err != nil {
		return nil, err
	}

	env, err := config.MailEnvFromEnv()
	if err != nil {
		d.close(ctx)
		return nil, err
	}

	tpl, err := loadTemplate(d.cfg.TemplatePath)
	if err != nil {
		d.close(ctx)
		return nil, err
	}

	transport := &mailer.SMTPTransport{
		Addr:     fmt.Sprintf("%s:%d", env.SMTPHost, env.SMTPPort),
		Username: env.SMTPUser,
		Password: env.SMTPPass,
		From:     env.SMTPUser,
	}
	reader := &mailer.IMAPReader{
		Addr:     fmt.Sprintf("%s:%d", env.IMAPHost, env.IMAPPort),
		Username: env.IMAPUser,
		Password: env.IMAPPass,
	}

	tokens := token.NewGenerator(d.cfg.TokenPrefix, d.store)
	orchestrator := sender.New(transport, d.store, tokens, d.cfg.SubjectBase, d.logger,
		sender.WithDefaultCC(d.cfg.DefaultCC),
		sender.WithFixedAttachments(d.cfg.AttachFiles),
		sender.WithThrottle(d.cfg.Throttle()),
	)

	m, err := matcher.New(d.store, d.cfg.TokenPrefix, d.logger)
	if err != nil {
		d.close(ctx)
		return nil, err
	}
	e := extractor.New(d.store, d.cfg.AttachBaseDir, d.cfg.MaxAttachBytes, d.logger)
	p := poller.New(reader, m, e, d.store, poller.Config{
		Folders:      d.cfg.ScanFolders,
		Lookback:     d.cfg.LookbackWindow(),
		MaxPerFolder: d.cfg.MaxScan,
	}, d.logger)

	var metrics *telemetry.Metrics
	if telemetry.Enabled() {
		if metrics, err = telemetry.NewMetrics(); err != nil {
			d.close(ctx)
			return nil, err
		}
	}

	runner := session.NewRunner(d.logger)
	d.service = services.New(runner, orchestrator, p, tpl, metrics, d.logger)
	return d, nil
}

func loadTemplate(path string) (*template.Template, error) {
	if path == "" {
		return template.New("email").Parse(defaultTemplate)
	}
	return template.ParseFiles(path)
}
