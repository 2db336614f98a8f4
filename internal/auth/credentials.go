package auth

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Fixed login metadata the devices expect.
const (
	ClientType    = "Web3.0"
	AuthorityType = "Default"
	PasswordType  = "Default"
)

// HashPassword folds the password into the login challenge:
//
//	H1 = upper(hex(md5(username:realm:password)))
//	H2 = upper(hex(md5(username:random:H1)))
//
// H2 is what the second login round trip sends as the password.
func HashPassword(username, password, realm, random string) string {
	h1 := md5Upper(username + ":" + realm + ":" + password)
	return md5Upper(username + ":" + random + ":" + h1)
}

func md5Upper(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// challenge is what the first login round trip returns.
type challenge struct {
	Realm      string `json:"realm"`
	Random     string `json:"random"`
	Encryption string `json:"encryption,omitempty"`
}

type loginParams struct {
	UserName      string `json:"userName"`
	Password      string `json:"password"`
	ClientType    string `json:"clientType"`
	AuthorityType string `json:"authorityType,omitempty"`
	PasswordType  string `json:"passwordType,omitempty"`
}
