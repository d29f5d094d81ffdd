package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"WorkshopPlatform/pkg/validation"
	"WorkshopPlatform/services/cli-service/internal/client"
	"WorkshopPlatform/services/cli-service/internal/output"
	"WorkshopPlatform/services/cli-service/internal/store"
)

func newLoginCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login [usuario]",
		Short: "Iniciar sesión",
		Long: `Inicia sesión en el negocio indicado con --tenant o en la configuración.
La cookie de sesión se guarda en el archivo de estado local.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(a.in)

			var username string
			if len(args) > 0 {
				username = args[0]
			} else {
				var err error
				if username, err = prompt(cmd, reader, "Usuario: "); err != nil {
					return err
				}
			}

			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				var err error
				if password, err = prompt(cmd, reader, "Contraseña: "); err != nil {
					return err
				}
			}

			validator := validation.NewValidator()
			if err := validator.ValidateRequiredFields(map[string]string{"tenant": a.cfg.Tenant}); err != nil {
				return errors.New("indique el negocio con --tenant o en la configuración")
			}
			if err := validator.ValidateUsername(username); err != nil {
				return fmt.Errorf("usuario inválido: %w", err)
			}
			if err := validator.ValidatePassword(password); err != nil {
				return fmt.Errorf("contraseña inválida: %w", err)
			}

			user, err := a.client.Login(cmd.Context(), username, password)
			if err != nil {
				return a.handleError(cmd, err)
			}
			return a.printer.Print(userView(*user))
		},
	}
	cmd.Flags().StringP("password", "p", "", "contraseña (si no se indica, se solicita)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Cerrar sesión",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Logout(cmd.Context()); err != nil {
				return a.handleError(cmd, err)
			}
			return a.printer.Print("Sesión cerrada")
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Mostrar la sesión actual",
		Long: `Muestra el usuario de la sesión actual. Sin conexión con el servidor
se muestra el último usuario conocido.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			verify, _ := cmd.Flags().GetBool("verify")
			claims, err := a.client.Whoami(cmd.Context(), verify)
			if err != nil {
				return a.handleError(cmd, err)
			}
			return a.printer.Print(claimsView(*claims))
		},
	}
	cmd.Flags().Bool("verify", false, "consultar al servidor también en modo sin conexión")
	return cmd
}

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renovar la sesión",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.Refresh(cmd.Context())
			if err != nil {
				return a.handleError(cmd, err)
			}
			return a.printer.Print(refreshView(res))
		},
	}
}

func prompt(cmd *cobra.Command, r *bufio.Reader, label string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), label)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("error al leer la entrada: %w", err)
	}
	return strings.TrimSpace(line), nil
}

type userView store.User

func (u userView) Table() *output.TableData {
	return output.NewTableData("ID", "USUARIO", "NOMBRE", "ROL", "NEGOCIO").
		AddRow(u.ID, u.Username, u.Name, u.Role, u.TenantID)
}

type claimsView client.Claims

func (c claimsView) Table() *output.TableData {
	status := "en línea"
	if c.Offline {
		status = "sin conexión"
	}
	return output.NewTableData("ID", "USUARIO", "ROL", "NEGOCIO", "EXPIRA", "ESTADO").
		AddRow(c.UserID, c.Username, c.Role, c.TenantID, formatTime(c.ExpiresAt), status)
}

type refreshView client.RefreshResult

func (r refreshView) Table() *output.TableData {
	rotated := "no"
	if r.Rotated {
		rotated = "sí"
	}
	return output.NewTableData("EXPIRA", "ROTADA").AddRow(formatTime(r.ExpiresAt), rotated)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
