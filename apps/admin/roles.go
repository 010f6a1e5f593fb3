package main

import (
	"context"
	"fmt"

	"github.com/trezcool/licita/core"
	"github.com/trezcool/licita/core/access"
)

// addRole grants `roleType` to the user. School-scoped roles need a school.
func (cli *commandLine) addRole(userID, roleType string, schoolID *int64) error {
	role, err := cli.gate.AssignRole(context.Background(), access.RoleAssignment{
		UserID:   core.CleanString(userID),
		RoleType: core.CleanString(roleType, true /* lower */),
		SchoolID: schoolID,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "role %s granted to %s%s\n", role.RoleType, role.UserID, schoolSuffix(role.SchoolID))
	return nil
}

func (cli *commandLine) roles(userID string) error {
	roles, err := cli.gate.Roles(context.Background(), core.CleanString(userID))
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		fmt.Fprintln(cli.out, "no roles")
		return nil
	}
	for _, role := range roles {
		fmt.Fprintf(cli.out, "%s%s\n", role.RoleType, schoolSuffix(role.SchoolID))
	}
	return nil
}

func schoolSuffix(schoolID *int64) string {
	if schoolID == nil {
		return ""
	}
	return fmt.Sprintf(" (school %d)", *schoolID)
}
