package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/licita/core"
	"github.com/trezcool/licita/core/access"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf *core.Config
	db   *sqlx.DB
	gate *access.Gate
	out  io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run the goose COMMAND (up, down, status, up-to VERSION, ...)")
	fmt.Fprintln(cli.out, "  addrole -user USER_ID -role ROLE [-school SCHOOL_ID] - grant a licitaciones role")
	fmt.Fprintln(cli.out, "  roles -user USER_ID - list the active roles of a user")
	fmt.Fprintln(cli.out, "  token -user USER_ID [-email EMAIL] - issue an API token")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addRoleCmd := flag.NewFlagSet("addrole", flag.ContinueOnError)
	addRoleUser := addRoleCmd.String("user", "", "The user's id.")
	addRoleType := addRoleCmd.String("role", "", fmt.Sprintf("The role: %s | %s.", access.RoleAdmin, access.RoleEncargado))
	addRoleSchool := addRoleCmd.Int64("school", 0, "The school of a "+access.RoleEncargado+" role.")

	rolesCmd := flag.NewFlagSet("roles", flag.ContinueOnError)
	rolesUser := rolesCmd.String("user", "", "The user's id.")

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenUser := tokenCmd.String("user", "", "The user's id.")
	tokenEmail := tokenCmd.String("email", "", "The user's email.")

	for _, fs := range []*flag.FlagSet{addRoleCmd, rolesCmd, tokenCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "addrole":
		if err := addRoleCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addRoleUser == "" || *addRoleType == "" {
			addRoleCmd.Usage()
			return errHelp
		}
		var schoolID *int64
		if *addRoleSchool > 0 {
			schoolID = addRoleSchool
		}
		return cli.addRole(*addRoleUser, *addRoleType, schoolID)
	case "roles":
		if err := rolesCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *rolesUser == "" {
			rolesCmd.Usage()
			return errHelp
		}
		return cli.roles(*rolesUser)
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenUser == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenUser, *tokenEmail)
	default:
		cli.printUsage()
		return errHelp
	}
}
