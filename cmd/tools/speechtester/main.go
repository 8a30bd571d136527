package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/interview-sim/backend/internal/config"
	"github.com/zhouzirui/interview-sim/backend/internal/logging"
	speechmodel "github.com/zhouzirui/interview-sim/backend/internal/model/speech"
	"github.com/zhouzirui/interview-sim/backend/internal/service/speech"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	text := flag.String("text", "Olá! Este é um teste de síntese de voz.", "TTS 输入文本")
	outputPath := flag.String("out", "", "输出 WAV 文件路径 (默认 tts-<时间戳>.wav)")
	language := flag.String("lang", "", "语言代码，默认使用配置中的语言")
	voice := flag.String("voice", "", "声音 ID，默认按语言选择")
	engine := flag.String("engine", "", "覆盖 SPEECH_ENGINE (kokoro 或 volcengine)")
	probe := flag.Bool("probe", false, "只检查引擎是否可用")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")
	flag.Parse()

	if *engine != "" {
		cfg.Speech.Engine = *engine
	}
	if !cfg.Speech.Enabled() {
		log.Fatal("语音引擎已禁用，请设置 SPEECH_ENGINE")
	}

	svc, err := speech.NewFromConfig(cfg.Speech, logging.New(cfg.Log.Level), nil)
	if err != nil {
		log.Fatalf("初始化语音服务失败: %v", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *probe {
		if err := svc.Probe(ctx); err != nil {
			log.Fatalf("引擎 %s 不可用: %v", svc.EngineName(), err)
		}
		log.Printf("引擎 %s 可用", svc.EngineName())
		return
	}

	runTTS(ctx, svc, cfg, *text, *voice, *language, *outputPath)
}

func runTTS(ctx context.Context, svc *speech.Service, cfg *config.Config, text, voice, language, outputPath string) {
	if language == "" {
		language = cfg.Speech.Language
	}
	if voice == "" {
		voice = svc.VoiceFor(language)
	}

	log.Printf("开始进行 TTS 测试: engine=%s voice=%s language=%s", svc.EngineName(), voice, language)

	start := time.Now()
	resp, err := svc.SynthesizeRequest(ctx, speechmodel.TTSRequest{Text: text, Voice: voice, Language: language})
	if err != nil {
		log.Fatalf("TTS 调用失败: %v", err)
	}
	if resp.Empty() {
		log.Fatal("TTS 未返回音频数据")
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-%d.wav", time.Now().Unix())
	}
	if err := os.WriteFile(outputPath, resp.Audio, 0o644); err != nil {
		log.Fatalf("写入音频文件失败: %v", err)
	}

	log.Printf("TTS 完成: 耗时=%s 帧数=%d 时长=%.2fs 格式=%s/%dHz 输出=%s",
		time.Since(start).Round(time.Millisecond), resp.Frames, resp.Duration,
		resp.Format.Encoding, resp.Format.SampleRate, outputPath)
}
