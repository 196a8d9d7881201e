package exchange

import (
	"fmt"
	"strings"

	"cryptofolio/pkg/utils"
)

// SupportedExchanges - список поддерживаемых бирж
var SupportedExchanges = []string{
	BinanceName,
}

// NewExchange создаёт клиент биржи по имени
func NewExchange(name string, cfg BinanceConfig, logger *utils.Logger) (Exchange, error) {
	switch strings.ToLower(name) {
	case BinanceName:
		return NewBinance(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedExchange, name)
	}
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedExchanges {
		if name == supported {
			return true
		}
	}
	return false
}
