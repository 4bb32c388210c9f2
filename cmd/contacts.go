package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/safewatch/internal/model"
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage emergency contacts",
	Long:  "List, add and remove emergency contacts. Changes made while the backend is unreachable are queued locally and replayed by `contacts sync`.",
}

// -- contacts list --

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List emergency contacts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		cs := env.contacts()
		list, err := cs.Contacts(ctx)
		if err != nil {
			return err
		}
		pending, err := cs.Pending(ctx)
		if err != nil {
			return err
		}

		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No contacts.")
		} else {
			formatContacts(cmd.OutOrStdout(), list)
		}
		if len(pending) > 0 {
			fmt.Fprintf(os.Stderr, "%d change(s) waiting to sync.\n", len(pending))
		}
		return nil
	},
}

// -- contacts add --

var contactsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an emergency contact",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		c := model.EmergencyContact{IsActive: true}
		c.Name, _ = cmd.Flags().GetString("name")
		c.Phone, _ = cmd.Flags().GetString("phone")
		c.Email, _ = cmd.Flags().GetString("email")
		c.Relationship, _ = cmd.Flags().GetString("relationship")
		c.IsPrimary, _ = cmd.Flags().GetBool("primary")

		env, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		saved, err := env.contacts().Save(ctx, c)
		if err != nil {
			return err
		}
		if saved.IsLocal() {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Saved %s offline as %s; it will sync when the backend is reachable.\n", saved.Name, saved.ID)
			return nil
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s).\n", saved.Name, saved.ID)
		return nil
	},
}

// -- contacts remove --

var contactsRemoveCmd = &cobra.Command{
	Use:   "remove <contact-id>",
	Short: "Remove an emergency contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.contacts().Delete(ctx, args[0]); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s.\n", args[0])
		return nil
	},
}

// -- contacts sync --

var contactsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued offline contact changes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.contacts().Reconcile(ctx)
		if err != nil {
			return eris.Wrap(err, "contacts sync")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "applied=%d refused=%d failed=%d given_up=%d remaining=%d\n",
			res.Applied, res.Refused, res.Failed, res.GivenUp, res.Remaining)
		return nil
	},
}

// -- contacts test --

var contactsTestCmd = &cobra.Command{
	Use:   "test <contact-id>",
	Short: "Send a test message to a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.dispatcher().TestContact(ctx, args[0]); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Test message sent.")
		return nil
	},
}

func init() {
	contactsAddCmd.Flags().String("name", "", "contact name")
	contactsAddCmd.Flags().String("phone", "", "phone number in E.164 format, e.g. +919876543210")
	contactsAddCmd.Flags().String("email", "", "optional email")
	contactsAddCmd.Flags().String("relationship", "", "relationship to the traveller")
	contactsAddCmd.Flags().Bool("primary", false, "mark as the primary contact")
	_ = contactsAddCmd.MarkFlagRequired("name")
	_ = contactsAddCmd.MarkFlagRequired("phone")

	contactsCmd.AddCommand(contactsListCmd)
	contactsCmd.AddCommand(contactsAddCmd)
	contactsCmd.AddCommand(contactsRemoveCmd)
	contactsCmd.AddCommand(contactsSyncCmd)
	contactsCmd.AddCommand(contactsTestCmd)
	rootCmd.AddCommand(contactsCmd)
}
