package stream

import (
	"strings"

	"github.com/microsoft/secure-azureai-agent/internal/generator"
)

// Supported diagnostic locales.
const (
	LocaleJA = "ja"
	LocaleEN = "en"
)

var diagnostics = map[string]map[generator.Kind]string{
	LocaleJA: {
		generator.KindUnavailable: "🔒 接続エラー: Azure OpenAIサービスへの接続に問題があります。" +
			"これは閉域化設定（Private Endpoint）やネットワーク制限が原因の可能性があります。" +
			"システム管理者にネットワーク設定をご確認ください。",
		generator.KindAuthConfig: "⚙️ 設定エラー: Azure OpenAIの認証情報またはエンドポイントの設定を確認できませんでした。" +
			"システム管理者に AZURE_OPENAI_API_KEY、AZURE_OPENAI_ENDPOINT とデプロイメント名の設定をご確認ください。",
		generator.KindAgent: "🤖 エージェントエラー: マルチエージェント処理中に問題が発生しました。" +
			"チャットモードに切り替えて再度お試しください。",
		generator.KindDisabled: "🤖 エージェントモードは現在無効になっています。" +
			"チャットモードに切り替えてご利用いただくか、システム管理者にお問い合わせください。",
		generator.KindGeneric: "エラー: リクエストの処理中に問題が発生しました。" +
			"しばらくしてから再度お試しいただき、解決しない場合はシステム管理者にお問い合わせください。",
	},
	LocaleEN: {
		generator.KindUnavailable: "🔒 Connection error: the Azure OpenAI service could not be reached. " +
			"This may be caused by private endpoint or network restrictions. " +
			"Please ask your administrator to check the network configuration.",
		generator.KindAuthConfig: "⚙️ Configuration error: the Azure OpenAI credentials or endpoint are not valid. " +
			"Please ask your administrator to check AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT and the deployment name.",
		generator.KindAgent: "🤖 Agent error: the multi-agent run failed. " +
			"Please switch to chat mode and try again.",
		generator.KindDisabled: "🤖 Agent mode is currently disabled. " +
			"Please switch to chat mode or contact your administrator.",
		generator.KindGeneric: "Error: something went wrong while processing your request. " +
			"Please try again later and contact your administrator if the problem persists.",
	},
}

var detailLabel = map[string]string{
	LocaleJA: "詳細: ",
	LocaleEN: "Details: ",
}

// normalizeLocale returns a supported locale, defaulting to Japanese.
func normalizeLocale(locale string) string {
	l := strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(l, "-_"); i > 0 {
		l = l[:i]
	}
	if _, ok := diagnostics[l]; ok {
		return l
	}
	return LocaleJA
}

// Diagnostic returns the user-facing message for a failure. The raw error is
// appended only when detail is set.
func Diagnostic(locale string, kind generator.Kind, err error, detail bool) string {
	locale = normalizeLocale(locale)
	msg, ok := diagnostics[locale][kind]
	if !ok {
		msg = diagnostics[locale][generator.KindGeneric]
	}
	if detail && err != nil {
		msg += " " + detailLabel[locale] + err.Error()
	}
	return msg
}
