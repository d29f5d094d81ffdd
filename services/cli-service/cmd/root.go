package cmd

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	pkgerrors "WorkshopPlatform/pkg/errors"
	"WorkshopPlatform/pkg/logger"
	"WorkshopPlatform/services/cli-service/internal/client"
	"WorkshopPlatform/services/cli-service/internal/config"
	"WorkshopPlatform/services/cli-service/internal/output"
	"WorkshopPlatform/services/cli-service/internal/store"
)

const version = "1.0.0"

// app общее состояние команд одного запуска
type app struct {
	v       *viper.Viper
	cfg     *config.Config
	log     logger.Logger
	client  *client.Client
	printer *output.Printer

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// Execute выполняет корневую команду
func Execute(ctx context.Context, in io.Reader, out, errOut io.Writer, args []string) error {
	root := NewRootCmd(in, out, errOut)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCmd собирает дерево команд workshopctl
func NewRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{v: viper.New(), in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "workshopctl",
		Short: "Cliente de línea de comandos del taller",
		Long: `workshopctl gestiona la sesión contra el servicio de autenticación:
inicio y cierre de sesión, renovación y acciones administrativas
sobre usuarios y negocios.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "archivo de configuración (por defecto $HOME/.workshopctl/config.yaml)")
	flags.StringP("server", "s", "", "dirección del servidor")
	flags.StringP("tenant", "t", "", "identificador del negocio")
	flags.StringP("output", "o", "", "formato de salida (table, json, yaml)")
	flags.String("state-file", "", "archivo con el estado de la sesión")
	flags.BoolP("verbose", "v", false, "registro detallado")

	_ = a.v.BindPFlag("server", flags.Lookup("server"))
	_ = a.v.BindPFlag("tenant", flags.Lookup("tenant"))
	_ = a.v.BindPFlag("output", flags.Lookup("output"))
	_ = a.v.BindPFlag("state_file", flags.Lookup("state-file"))

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newRefreshCmd(a),
		newAdminCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(a.v, file)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	a.log = newLogger(a.errOut, level)
	a.printer = output.NewPrinter(a.out, cfg.Output)

	c, err := client.New(client.Options{
		BaseURL:      cfg.Server,
		TenantID:     cfg.Tenant,
		TenantHeader: cfg.TenantHeader,
		CSRFHeader:   cfg.CSRFHeader,
		Timeout:      cfg.Timeout,
		Throttle:     cfg.Refresh.Throttle,
		RefreshAhead: cfg.Refresh.Ahead,
		NoticeDelay:  cfg.Refresh.NoticeDelay,
		Store:        store.NewSessionStore(cfg.StateFile),
		Logger:       a.log,
		Notices:      a.errOut,
	})
	if err != nil {
		return err
	}
	a.client = c

	a.log.Debug("configuration loaded",
		logger.String("server", cfg.Server),
		logger.String("config_file", a.v.ConfigFileUsed()),
	)
	return nil
}

// newLogger пишет в stderr, чтобы не смешивать журнал с выводом команд
func newLogger(w io.Writer, level string) logger.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.WarnLevel
	}
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), zap.NewAtomicLevelAt(lvl))
	return logger.NewFromZap(zap.New(core).With(zap.String("service", "workshopctl")))
}

// handleError переводит ошибку в сообщение для пользователя. Если сервер
// завершил сессию, сначала выдерживается пауза после уведомления.
func (a *app) handleError(cmd *cobra.Command, err error) error {
	if err == nil {
		return nil
	}

	if a.client != nil && a.client.Coordinator().Terminated() {
		<-a.client.Done()
	}

	a.log.Debug("command failed", logger.String("command", cmd.CommandPath()), logger.Error(err))

	var appErr *pkgerrors.Error
	if errors.As(err, &appErr) {
		return errors.New(appErr.GetUserMessage())
	}
	return err
}
