// Package tts renders reply text into playable audio.
package tts

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"
)

// Synthesizer renders text to encoded audio. Format reports the encoding
// tag clients should expect alongside the bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Format() string
	Close() error
}

// Voice describes the synthesis voice and prosody.
type Voice struct {
	LanguageCode string
	Name         string
	SpeakingRate float64
	Pitch        float64
}

// DefaultVoice is the shipped avatar voice.
func DefaultVoice() Voice {
	return Voice{
		LanguageCode: "en-US",
		Name:         "en-US-Neural2-F",
		SpeakingRate: 1.1,
		Pitch:        2.0,
	}
}

// Google synthesizes MP3 through the Cloud Text-to-Speech API.
type Google struct {
	client *texttospeech.Client
	voice  Voice
}

type GoogleOptions struct {
	Voice Voice
	// CredentialsFile optionally points at a service account key; when
	// empty the client uses application default credentials.
	CredentialsFile string
}

func NewGoogle(ctx context.Context, opts GoogleOptions) (*Google, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := texttospeech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("tts: create client: %w", err)
	}
	voice := opts.Voice
	if voice == (Voice{}) {
		voice = DefaultVoice()
	}
	return &Google{client: client, voice: voice}, nil
}

func (g *Google) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("tts: empty text")
	}
	resp, err := g.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: g.voice.LanguageCode,
			Name:         g.voice.Name,
			SsmlGender:   texttospeechpb.SsmlVoiceGender_FEMALE,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  g.voice.SpeakingRate,
			Pitch:         g.voice.Pitch,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tts: synthesize: %w", err)
	}
	if len(resp.GetAudioContent()) == 0 {
		return nil, fmt.Errorf("tts: empty audio content")
	}
	return resp.GetAudioContent(), nil
}

func (g *Google) Format() string { return "mp3" }

func (g *Google) Close() error {
	return g.client.Close()
}
