package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/BTreeMap/Paradiso/internal/genai"
	"github.com/BTreeMap/Paradiso/internal/twiliowhatsapp"
)

// SecretNames are the environment variables that may come from SSM.
var SecretNames = []string{"TWILIO_AUTH_TOKEN", "OPENAI_API_KEY"}

// ParameterGetter is the part of the SSM client used for secrets.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

func missingSecrets() []string {
	var names []string
	for _, name := range SecretNames {
		if os.Getenv(name) == "" {
			names = append(names, name)
		}
	}
	return names
}

// FetchSecrets reads prefix/NAME for each name with decryption. Parameters
// that do not exist are skipped.
func FetchSecrets(ctx context.Context, api ParameterGetter, prefix string, names []string) (map[string]string, error) {
	prefix = strings.TrimSuffix(prefix, "/")
	out := make(map[string]string, len(names))
	for _, name := range names {
		path := prefix + "/" + name
		res, err := api.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(path),
			WithDecryption: aws.Bool(true),
		})
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			slog.Debug("FetchSecrets: parameter not found", "name", path)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read SSM parameter %s: %w", path, err)
		}
		if res.Parameter == nil || aws.ToString(res.Parameter.Value) == "" {
			continue
		}
		out[name] = aws.ToString(res.Parameter.Value)
		slog.Debug("FetchSecrets: loaded", "name", path)
	}
	return out, nil
}

// applySecrets puts fetched secrets ahead of the caller's options, so an
// explicitly configured value still wins.
func applySecrets(secrets map[string]string, twOpts []twiliowhatsapp.Option, genaiOpts []genai.Option) ([]twiliowhatsapp.Option, []genai.Option) {
	if v, ok := secrets["TWILIO_AUTH_TOKEN"]; ok {
		twOpts = append([]twiliowhatsapp.Option{twiliowhatsapp.WithAuthToken(v)}, twOpts...)
	}
	if v, ok := secrets["OPENAI_API_KEY"]; ok {
		genaiOpts = append([]genai.Option{genai.WithAPIKey(v)}, genaiOpts...)
	}
	return twOpts, genaiOpts
}
