package repository

import (
	"errors"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	ErrRechargeNotFound       = errors.New("充值单不存在")
	ErrRechargeStatusConflict = errors.New("充值单状态不合法")
	ErrPaymentAlreadyBound    = errors.New("支付单已绑定其他充值单")
	ErrWalletNotFound         = errors.New("钱包不存在")
	ErrInsufficientBalance    = errors.New("余额不足")
)

const mysqlDuplicateEntry = 1062

// isDuplicateKey 兼容开启和未开启 TranslateError 两种情况
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqldriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
