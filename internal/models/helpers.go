package models

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

var (
	ErrUnsupportedURL = errors.New("起始页必须是HTTP或HTTPS地址")
	ErrMissingHost    = errors.New("地址缺少主机名")
)

// ValidateURL 检查起始页地址,只接受带主机名的http(s)地址
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("无效的URL: %w", err)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("%w: %s", ErrUnsupportedURL, raw)
	case u.Host == "":
		return fmt.Errorf("%w: %s", ErrMissingHost, raw)
	}
	return nil
}

func generateID() string {
	return uuid.New().String()
}
