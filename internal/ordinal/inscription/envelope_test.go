package inscription

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/txscript"
)

func buildEnvelope(t *testing.T, contentType, body []byte) []byte {
	t.Helper()
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_FALSE)
	b.AddOp(txscript.OP_IF)
	b.AddData([]byte("ord"))
	if contentType != nil {
		b.AddData([]byte{byte(TagContentType)})
		b.AddData(contentType)
	}
	if body != nil {
		b.AddOp(txscript.OP_0)
		b.AddData(body)
	}
	b.AddOp(txscript.OP_ENDIF)
	script, err := b.Script()
	if err != nil {
		t.Fatalf("build script: %v", err)
	}
	return script
}

func TestParseEnvelopeContentTypeAndBody(t *testing.T) {
	script := buildEnvelope(t, []byte("text/plain"), []byte("hello"))

	env, err := ParseEnvelope(script)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if string(env.ContentType) != "text/plain" {
		t.Errorf("ContentType = %q, want %q", env.ContentType, "text/plain")
	}
	if !bytes.Equal(env.Body, []byte("hello")) {
		t.Errorf("Body = %q, want %q", env.Body, "hello")
	}
}

func TestFindEnvelopeSearchesWitnessStack(t *testing.T) {
	script := buildEnvelope(t, []byte("text/plain"), []byte("hi"))
	witness := [][]byte{{0xde, 0xad, 0xbe, 0xef}, script, {0x01}}

	env, ok := FindEnvelope(witness)
	if !ok {
		t.Fatal("FindEnvelope did not find the envelope")
	}
	if string(env.ContentType) != "text/plain" {
		t.Errorf("ContentType = %q, want %q", env.ContentType, "text/plain")
	}
}

func TestFindEnvelopeAbsent(t *testing.T) {
	witness := [][]byte{{0x01, 0x02}, {0x03}}
	if _, ok := FindEnvelope(witness); ok {
		t.Error("FindEnvelope found an envelope in witness data with none")
	}
}

func TestParseEnvelopeNoBody(t *testing.T) {
	script := buildEnvelope(t, []byte("text/plain"), nil)

	env, err := ParseEnvelope(script)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Body != nil {
		t.Errorf("Body = %q, want nil", env.Body)
	}
}

func TestParseEnvelopeMalformedMissingEndif(t *testing.T) {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_FALSE)
	b.AddOp(txscript.OP_IF)
	b.AddData([]byte("ord"))
	script, err := b.Script()
	if err != nil {
		t.Fatalf("build script: %v", err)
	}

	if _, err := ParseEnvelope(script); err == nil {
		t.Error("ParseEnvelope accepted a script with no OP_ENDIF")
	}
}
