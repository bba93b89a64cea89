package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	llmProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/tts"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	lang := orchestrator.Language(os.Getenv("AGENT_LANGUAGE"))
	if lang == "" {
		lang = orchestrator.LanguageEn
	}

	stt := selectSTT(lang)
	ttsEng := selectTTS()
	mode := selectMode()

	pipe := orchestrator.NewPipeline(stt, ttsEng, orchestrator.NewEnergyVAD(0.01), mode, nil)

	playDev, err := audio.NewMalgoPlaybackDevice(uint32(ttsEng.SampleRate()))
	if err != nil {
		log.Fatalf("Error: playback device: %v", err)
	}
	sink := audio.NewSink(playDev, pipe.TTSCancelFlag())
	defer sink.Close()
	pipe.AttachSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	systemPrompt := os.Getenv("SYSTEM_PROMPT")
	if systemPrompt == "" {
		systemPrompt = "You are a helpful and concise voice assistant. Use short sentences suitable for speech."
	}

	llmName := os.Getenv("LLM_PROVIDER")
	if llmName == "" {
		llmName = "groq"
	}

	fmt.Printf("Configured: STT=%s | LLM=%s | TTS=%s | mode=%v\n", stt.Name(), llmName, ttsEng.Name(), mode)
	fmt.Println("Voice Agent Started! Listening to microphone...")
	fmt.Println("Press Ctrl+C to exit")

	if llmName == "ollama-native" {
		runWithOllama(ctx, pipe, systemPrompt)
	} else {
		runWithStreaming(ctx, pipe, llmName, systemPrompt)
	}
}

// selectSTT builds the configured transcription engine; every choice
// satisfies the same pipeline adapter surface.
func selectSTT(lang orchestrator.Language) orchestrator.PipelineSTT {
	name := os.Getenv("STT_PROVIDER")
	if name == "" {
		name = "groq"
	}
	switch name {
	case "local":
		modelPath := os.Getenv("WHISPER_MODEL_PATH")
		if modelPath == "" {
			log.Fatal("Error: WHISPER_MODEL_PATH must be set for local STT")
		}
		engine, err := sttProvider.NewLocalEngine(modelPath, os.Getenv("WHISPER_MODEL_URL"), nil)
		if err != nil {
			log.Fatalf("Error: local STT engine: %v", err)
		}
		return engine
	case "openai":
		key := mustEnv("OPENAI_API_KEY", "openai STT")
		return sttProvider.NewOpenAISTT(key, "whisper-1").WithLanguage(lang)
	case "deepgram":
		key := mustEnv("DEEPGRAM_API_KEY", "deepgram STT")
		return sttProvider.NewDeepgramSTT(key).WithLanguage(lang)
	case "assemblyai":
		key := mustEnv("ASSEMBLYAI_API_KEY", "assemblyai STT")
		return sttProvider.NewAssemblyAISTT(key).WithLanguage(lang)
	case "groq":
		fallthrough
	default:
		key := mustEnv("GROQ_API_KEY", "groq STT")
		return sttProvider.NewGroqSTT(key, os.Getenv("GROQ_STT_MODEL")).WithLanguage(lang)
	}
}

// selectTTS builds the configured synthesis engine.
func selectTTS() orchestrator.PipelineTTS {
	name := os.Getenv("TTS_PROVIDER")
	if name == "" {
		name = "lokutor"
	}
	switch name {
	case "edge":
		voice := os.Getenv("EDGE_VOICE")
		if voice == "" {
			voice = "en-US-AriaNeural"
		}
		return ttsProvider.NewCloudTTS(voice, nil)
	case "kokoro":
		engine, err := ttsProvider.NewLocalTTS(ttsProvider.LocalTTSConfig{
			ModelPath:  os.Getenv("KOKORO_MODEL_PATH"),
			VoicesPath: os.Getenv("KOKORO_VOICES_PATH"),
			TokensPath: os.Getenv("KOKORO_TOKENS_PATH"),
			DataDir:    os.Getenv("KOKORO_DATA_DIR"),
			Lang:       "en-us",
			Speed:      1.0,
			Provider:   "cpu",
		})
		if err != nil {
			log.Fatalf("Error: local TTS engine: %v", err)
		}
		return engine
	case "lokutor":
		fallthrough
	default:
		key := mustEnv("LOKUTOR_API_KEY", "lokutor TTS")
		voice := orchestrator.Voice(os.Getenv("LOKUTOR_VOICE"))
		lang := orchestrator.Language(os.Getenv("AGENT_LANGUAGE"))
		return ttsProvider.NewLokutorTTS(key, voice, lang)
	}
}

func selectMode() orchestrator.VoiceMode {
	switch os.Getenv("VOICE_MODE") {
	case "toggle":
		return orchestrator.ModeToggle
	case "wake":
		return orchestrator.ModeWakeWord
	default:
		return orchestrator.ModePushToTalk
	}
}

func mustEnv(key, what string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("Error: %s must be set for %s", key, what)
	}
	return v
}

// runWithStreaming drives the SSE chat provider: transcripts go in as
// user turns, stream tokens print live, tool calls round-trip through
// the builtin tool table, and final responses are spoken.
func runWithStreaming(ctx context.Context, pipe *orchestrator.Pipeline, llmName, systemPrompt string) {
	providerType := llmProvider.ProviderType(llmName)
	if llmName == "ollama" || llmName == "local" {
		providerType = llmProvider.ProviderLocalServer
	}

	baseURL := os.Getenv("LLM_BASE_URL")
	if baseURL == "" {
		baseURL = llmProvider.DefaultEndpoint(providerType)
	}
	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = llmProvider.DefaultModel(providerType)
	}

	provider := llmProvider.NewStreamingProvider(llmProvider.Config{
		ProviderType: providerType,
		BaseURL:      baseURL,
		BearerToken:  os.Getenv("LLM_API_KEY"),
		Model:        model,
		SystemPrompt: systemPrompt,
	})
	tools := builtinTools()
	provider.SetTools(toolDefinitions(tools))
	provider.Start()
	defer provider.Stop()

	if err := pipe.Start(ctx, os.Getenv("INPUT_DEVICE")); err != nil {
		log.Fatalf("Error: start pipeline: %v", err)
	}
	defer pipe.Stop()

	go func() {
		for evt := range pipe.Events() {
			printPipelineEvent(evt)
			if text := evt.TranscriptionText(); text != "" {
				provider.SendUserText(ctx, text)
			}
		}
	}()

	go func() {
		for evt := range provider.Events() {
			switch evt.Kind {
			case "StreamToken":
				fmt.Print(evt.Text)
			case "StreamEnd":
				fmt.Println()
			case "Response":
				if evt.Text == "" {
					continue
				}
				if err := pipe.Speak(ctx, evt.Text); err != nil {
					log.Printf("speak: %v", err)
				}
			case "ToolCalls":
				handleToolCalls(ctx, provider, tools, evt)
			case "Output":
				fmt.Printf("\n%s\n", evt.Text)
			case "Error":
				fmt.Printf("\n[LLM ERROR] %s\n", evt.Message)
			}
		}
	}()

	waitForSignal()
}

// runWithOllama is the plain request/response loop over the first-class
// Ollama client, for setups that skip streaming and tools entirely.
func runWithOllama(ctx context.Context, pipe *orchestrator.Pipeline, systemPrompt string) {
	client, err := llmProvider.NewOllamaLLM(os.Getenv("OLLAMA_HOST"), os.Getenv("OLLAMA_MODEL"))
	if err != nil {
		log.Fatalf("Error: failed to configure ollama LLM: %v", err)
	}

	history := []orchestrator.Message{{Role: "system", Content: systemPrompt}}

	if err := pipe.Start(ctx, os.Getenv("INPUT_DEVICE")); err != nil {
		log.Fatalf("Error: start pipeline: %v", err)
	}
	defer pipe.Stop()

	go func() {
		for evt := range pipe.Events() {
			printPipelineEvent(evt)
			text := evt.TranscriptionText()
			if text == "" {
				continue
			}

			history = append(history, orchestrator.Message{Role: "user", Content: text})
			response, err := client.Complete(ctx, history)
			if err != nil {
				log.Printf("ollama: %v", err)
				continue
			}
			history = append(history, orchestrator.Message{Role: "assistant", Content: response})
			if response == "" {
				continue
			}
			fmt.Printf("[ASSISTANT] %s\n", response)
			if err := pipe.Speak(ctx, response); err != nil {
				log.Printf("speak: %v", err)
			}
		}
	}()

	waitForSignal()
}

func printPipelineEvent(evt orchestrator.PipelineEvent) {
	switch evt.Event {
	case orchestrator.EvtRecordingStart:
		fmt.Println("[USER] Speaking...")
	case orchestrator.EvtRecordingStop:
		fmt.Println("[STT] Processing...")
	case orchestrator.EvtTranscription:
		raw, _ := json.Marshal(evt.Data)
		fmt.Printf("[TRANSCRIPT] %s\n", string(raw))
	case orchestrator.EvtSpeakingStart:
		fmt.Println("[TTS] Speaking...")
	case orchestrator.EvtPipelineError:
		raw, _ := json.Marshal(evt.Data)
		fmt.Printf("[ERROR] %s\n", string(raw))
	}
}

// toolFunc executes one tool call and returns its textual result.
type toolFunc struct {
	def llmProvider.ToolDefinition
	run func(args map[string]interface{}) (string, error)
}

// builtinTools is the demo tool table; a real deployment swaps in an MCP
// registry here, which supplies schemas and executes invocations.
func builtinTools() map[string]toolFunc {
	timeDef := llmProvider.ToolDefinition{
		Name:        "get_time",
		Description: "Get the current local date and time.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	}
	return map[string]toolFunc{
		"get_time": {
			def: timeDef,
			run: func(map[string]interface{}) (string, error) {
				return time.Now().Format(time.RFC1123), nil
			},
		},
	}
}

func toolDefinitions(tools map[string]toolFunc) []llmProvider.ToolDefinition {
	defs := make([]llmProvider.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, t.def)
	}
	return defs
}

// handleToolCalls runs the tool-result protocol: record the
// assistant turn, enforce the iteration bound, execute, re-enter.
func handleToolCalls(ctx context.Context, provider *llmProvider.StreamingProvider, tools map[string]toolFunc, evt llmProvider.StreamEvent) {
	provider.AddAssistantToolCallMessage(evt.ResponseText, evt.RawToolCalls)
	if provider.CheckToolIterationLimit() {
		// The provider emits the max-iterations Output event; the event
		// loop surfaces it like any other provider message.
		return
	}

	results := make([]llmProvider.ToolResult, 0, len(evt.Calls))
	for _, call := range evt.Calls {
		var content string
		if tool, ok := tools[call.Name]; ok {
			out, err := tool.run(call.Arguments)
			if err != nil {
				content = fmt.Sprintf("error: %v", err)
			} else {
				content = out
			}
		} else {
			content = fmt.Sprintf("error: unknown tool %q", call.Name)
		}
		results = append(results, llmProvider.ToolResult{ToolCallID: call.ID, Content: content})
	}
	provider.InjectToolResults(ctx, results)
}

func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")
}
