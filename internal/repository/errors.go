package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrNoCredits         = errors.New("no credits left")
	ErrDuplicatePurchase = errors.New("purchase already recorded")
	ErrLeadNotFound      = errors.New("lead not found")
	ErrTemplateNotFound  = errors.New("template not found")
)

const (
	mysqlDuplicateEntry = 1062
	mysqlNoParentRow    = 1452
)

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

func isMissingParent(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlNoParentRow
}
