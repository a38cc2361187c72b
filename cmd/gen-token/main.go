// Command gen-token signs HS256 bearer tokens for boards running with
// LOCAL_AUTH_MODE=hs256 or AUTH0_TEST_MODE=1.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
)

func main() {
	var (
		count  = flag.Int("count", 1, "number of tokens to generate")
		prefix = flag.String("prefix", "student", "prefix for generated user IDs when count > 1")
		start  = flag.Int("start", 1, "starting index for generated user IDs when count > 1")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
		output = flag.String("output", "", "file to write generated tokens as a JSON array")
	)
	flag.Parse()

	if *count < 1 || *start < 1 {
		log.Fatal("count and start must be at least 1")
	}
	args := flag.Args()
	if len(args) > 0 && *count > 1 {
		log.Fatal("explicit user ID cannot be provided when generating multiple tokens")
	}

	secret, err := signingSecret(os.Getenv)
	if err != nil {
		log.Fatal(err)
	}
	tokens, err := generateTokens(secret, userIDs(*count, *prefix, *start, args), *ttl, time.Now())
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

func signingSecret(getenv func(string) string) ([]byte, error) {
	if s := getenv("LOCAL_AUTH_SHARED_SECRET"); s != "" {
		return []byte(s), nil
	}
	if s := getenv("TEST_JWT_SECRET"); s != "" {
		return []byte(s), nil
	}
	return nil, errors.New("LOCAL_AUTH_SHARED_SECRET or TEST_JWT_SECRET must be set")
}

func userIDs(count int, prefix string, start int, args []string) []string {
	if len(args) > 0 {
		return args[:1]
	}
	if count == 1 {
		return []string{prefix}
	}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, start+i)
	}
	return ids
}

func generateTokens(secret []byte, ids []string, ttl time.Duration, now time.Time) ([]string, error) {
	tokens := make([]string, len(ids))
	for i, id := range ids {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": id,
			"iat": now.Unix(),
			"exp": now.Add(ttl).Unix(),
		}).SignedString(secret)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
