package network

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"seq":1,"kind":"ping"}`)

	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := ReadFrame(&buffer)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	payload := make([]byte, MaxFrameSize+1)
	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, payload); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	buffer := bytes.NewBuffer([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := ReadFrame(buffer); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestMessageRoundTripOverPipeForEachCodec(t *testing.T) {
	for _, codec := range []Codec{JSON, CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			local, remote := net.Pipe()
			defer local.Close()
			defer remote.Close()

			sent := Request{Sequence: 7, Kind: RequestKeyEvent, Keycode: 3, Action: ActionUp}
			errCh := make(chan error, 1)
			go func() {
				errCh <- WriteMessage(local, codec, sent)
			}()

			var got Request
			if err := ReadMessage(remote, codec, time.Second, &got); err != nil {
				t.Fatalf("ReadMessage failed: %v", err)
			}
			if err := <-errCh; err != nil {
				t.Fatalf("WriteMessage failed: %v", err)
			}
			if got != sent {
				t.Fatalf("expected %+v, got %+v", sent, got)
			}
		})
	}
}

func TestCodecForFallsBackToJSON(t *testing.T) {
	if CodecFor("CBOR") != CBOR {
		t.Fatalf("expected CBOR codec")
	}
	if CodecFor("yaml") != JSON {
		t.Fatalf("expected unknown format to fall back to JSON")
	}
}
