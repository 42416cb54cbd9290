// Package stt turns recorded audio clips into text.
package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
)

// Transcriber converts one complete audio clip into a transcript. An empty
// transcript with a nil error means the clip contained no recognizable
// speech.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
	Close() error
}

// FormatSpec maps a client container name onto recognizer parameters.
type FormatSpec struct {
	Encoding   speechpb.RecognitionConfig_AudioEncoding
	SampleRate int32
}

var formatSpecs = map[string]FormatSpec{
	"webm": {Encoding: speechpb.RecognitionConfig_WEBM_OPUS, SampleRate: 48000},
	"wav":  {Encoding: speechpb.RecognitionConfig_LINEAR16, SampleRate: 44100},
	"mp3":  {Encoding: speechpb.RecognitionConfig_MP3, SampleRate: 44100},
	"ogg":  {Encoding: speechpb.RecognitionConfig_OGG_OPUS, SampleRate: 48000},
}

// SpecForFormat resolves a container name. A missing name means the client
// sent no format and is assumed to be a browser webm clip; a name we do not
// recognize falls back to the wav parameters.
func SpecForFormat(format string) FormatSpec {
	name := strings.ToLower(strings.TrimSpace(format))
	if name == "" {
		return formatSpecs["webm"]
	}
	if spec, ok := formatSpecs[name]; ok {
		return spec
	}
	return formatSpecs["wav"]
}

// Google transcribes through the Cloud Speech-to-Text synchronous API.
type Google struct {
	client   *speech.Client
	language string
	model    string
}

type GoogleOptions struct {
	// Language is the BCP-47 recognition language. Defaults to en-US.
	Language string
	// CredentialsFile optionally points at a service account key; when
	// empty the client uses application default credentials.
	CredentialsFile string
}

func NewGoogle(ctx context.Context, opts GoogleOptions) (*Google, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("stt: create client: %w", err)
	}
	language := opts.Language
	if language == "" {
		language = "en-US"
	}
	return &Google{client: client, language: language, model: "latest_short"}, nil
}

func (g *Google) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("stt: empty audio clip")
	}
	spec := SpecForFormat(format)
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   spec.Encoding,
			SampleRateHertz:            spec.SampleRate,
			LanguageCode:               g.language,
			EnableAutomaticPunctuation: true,
			Model:                      g.model,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", fmt.Errorf("stt: recognize: %w", err)
	}

	var parts []string
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if text := strings.TrimSpace(alts[0].GetTranscript()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func (g *Google) Close() error {
	return g.client.Close()
}
