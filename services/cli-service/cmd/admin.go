package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"WorkshopPlatform/services/cli-service/internal/output"
)

type revokedView struct {
	Target  string `json:"objetivo" yaml:"objetivo"`
	Revoked int    `json:"sesiones_revocadas" yaml:"sesiones_revocadas"`
}

func (v revokedView) Table() *output.TableData {
	return output.NewTableData("OBJETIVO", "SESIONES REVOCADAS").AddRow(v.Target, strconv.Itoa(v.Revoked))
}

type unblockView struct {
	UserID    string `json:"usuario_id" yaml:"usuario_id"`
	Unblocked bool   `json:"desbloqueado" yaml:"desbloqueado"`
}

func (v unblockView) Table() *output.TableData {
	return output.NewTableData("USUARIO", "DESBLOQUEADO").AddRow(v.UserID, strconv.FormatBool(v.Unblocked))
}

func newAdminCmd(a *app) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Acciones administrativas sobre sesiones",
		Long:  `Requiere el permiso usuarios:bloquear en la sesión actual.`,
	}

	admin.AddCommand(
		&cobra.Command{
			Use:   "block <usuario-id>",
			Short: "Bloquear un usuario y revocar sus sesiones",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := a.client.BlockUser(cmd.Context(), args[0])
				if err != nil {
					return a.handleError(cmd, err)
				}
				return a.printer.Print(revokedView{Target: args[0], Revoked: n})
			},
		},
		&cobra.Command{
			Use:   "unblock <usuario-id>",
			Short: "Desbloquear un usuario",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ok, err := a.client.UnblockUser(cmd.Context(), args[0])
				if err != nil {
					return a.handleError(cmd, err)
				}
				return a.printer.Print(unblockView{UserID: args[0], Unblocked: ok})
			},
		},
		&cobra.Command{
			Use:   "revoke-user <usuario-id>",
			Short: "Revocar todas las sesiones de un usuario sin bloquearlo",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := a.client.RevokeUserSessions(cmd.Context(), args[0])
				if err != nil {
					return a.handleError(cmd, err)
				}
				return a.printer.Print(revokedView{Target: args[0], Revoked: n})
			},
		},
		&cobra.Command{
			Use:   "revoke-tenant <negocio-id>",
			Short: "Revocar todas las sesiones de un negocio",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := a.client.RevokeTenantSessions(cmd.Context(), args[0])
				if err != nil {
					return a.handleError(cmd, err)
				}
				return a.printer.Print(revokedView{Target: args[0], Revoked: n})
			},
		},
	)
	return admin
}
