package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/permissions"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create a staff account",
	Long: `Create a staff account from the command line, for example the first
administrator of a fresh install:

  attendancebackend create-user --username admin --password s3cret --permissions admin`,
	RunE: runCreateUser,
}

func init() {
	rootCmd.AddCommand(createUserCmd)

	createUserCmd.Flags().String("username", "", "Login name (required)")
	createUserCmd.Flags().String("password", "", "Password, at least 8 characters (required)")
	createUserCmd.Flags().StringSlice("permissions", nil, "Global permissions to grant, e.g. review.view,review.adjudicate")
	_ = createUserCmd.MarkFlagRequired("username")
	_ = createUserCmd.MarkFlagRequired("password")
}

// newStaffUser validates the flags and hashes the password
func newStaffUser(username, password string, perms []string) (*models.User, error) {
	if len(username) < 3 {
		return nil, errors.New("username must be at least 3 characters")
	}
	if len(password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}
	for _, p := range perms {
		if !permissions.IsValidPermissionKey(p) {
			return nil, fmt.Errorf("unknown permission %q", p)
		}
	}
	user := &models.User{Username: username, GlobalPermissions: perms}
	if err := user.SetPassword(password); err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return user, nil
}

func runCreateUser(cmd *cobra.Command, args []string) error {
	user, err := newStaffUser(mustGetString(cmd, "username"), mustGetString(cmd, "password"),
		mustGetStringSlice(cmd, "permissions"))
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close databases", zap.Error(err))
		}
	}()

	if err := st.store.Users.Create(context.Background(), user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("username %q is already taken", user.Username)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	fmt.Printf("Created user %q (id %d) with permissions %v\n", user.Username, user.ID, user.GlobalPermissions)
	return nil
}
