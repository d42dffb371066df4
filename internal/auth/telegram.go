package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/contact-tracker/internal/apperror"
)

// TelegramUser is the "user" object embedded in WebApp init data.
type TelegramUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
	IsBot        bool   `json:"is_bot"`
}

// InitDataVerifier checks the signed init data a Telegram WebApp receives.
//
// SIGNATURE SCHEME (Telegram WebApp docs, "Validating data"):
//
//	secret = HMAC_SHA256(key="WebAppData", msg=<bot token>)
//	check  = every field except "hash", as "key=value", sorted by key,
//	         joined with "\n"
//	valid  ⇔ hex(HMAC_SHA256(key=secret, msg=check)) == hash
//
// auth_date is part of the signed data; MaxAge bounds how old it may be so a
// leaked init string stops working.
type InitDataVerifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewInitDataVerifier derives the secret from botToken. maxAge <= 0
// disables the age check.
func NewInitDataVerifier(botToken string, maxAge time.Duration) *InitDataVerifier {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return &InitDataVerifier{
		secret: mac.Sum(nil),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Verify validates initData (the raw query string) and returns the user it
// was issued for. Every failure is an apperror.ErrUnauthorized.
func (v *InitDataVerifier) Verify(initData string) (*TelegramUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, apperror.Unauthorized("init data is not a query string")
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, apperror.Unauthorized("init data has no hash")
	}
	got, err := hex.DecodeString(hash)
	if err != nil {
		return nil, apperror.Unauthorized("init data hash is not hex")
	}

	if !hmac.Equal(got, v.sign(DataCheckString(values))) {
		return nil, apperror.Unauthorized("init data signature mismatch")
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, apperror.Unauthorized("init data has no auth_date")
	}
	if v.maxAge > 0 && v.now().Sub(time.Unix(authDate, 0)) > v.maxAge {
		return nil, apperror.Unauthorized("init data expired")
	}

	var user TelegramUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID <= 0 {
		return nil, apperror.Unauthorized("init data has no user")
	}
	return &user, nil
}

func (v *InitDataVerifier) sign(check string) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(check))
	return mac.Sum(nil)
}

// DataCheckString is the canonical form that is signed: all fields but
// "hash", sorted, "k=v" per line. Values are the decoded strings.
func DataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + values.Get(k)
	}
	return strings.Join(lines, "\n")
}

// SignInitData builds a valid init data string for the given fields. It is
// the inverse of Verify and exists for tests and local tooling.
func SignInitData(botToken string, fields url.Values) string {
	v := NewInitDataVerifier(botToken, 0)
	signed := url.Values{}
	for k, vs := range fields {
		if k != "hash" {
			signed[k] = vs
		}
	}
	signed.Set("hash", hex.EncodeToString(v.sign(DataCheckString(signed))))
	return signed.Encode()
}
