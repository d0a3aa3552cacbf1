package main

import (
	"github.com/spf13/cobra"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/export"
)

func newCompanyCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "company",
		Short: "Manage companies and their rosters",
	}

	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := root.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Stop()

			c, err := svc.CreateCompany(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return export.Companies(cmd.OutOrStdout(), []model.Company{c})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List companies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := root.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Stop()

			companies, err := svc.Companies(cmd.Context())
			if err != nil {
				return err
			}
			return export.Companies(cmd.OutOrStdout(), companies)
		},
	}

	employees := &cobra.Command{
		Use:   "employees COMPANY_ID",
		Short: "List a company's enrolled employees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := root.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Stop()

			list, err := svc.Employees(cmd.Context(), model.CompanyID(args[0]))
			if err != nil {
				return err
			}
			return export.Employees(cmd.OutOrStdout(), list)
		},
	}

	cmd.AddCommand(create, list, employees)
	return cmd
}
