package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/nzlov/carewire/internal/signaling"
	"github.com/nzlov/carewire/internal/transport"
)

var errCallEnded = errors.New("call ended")

func buildCallCmd(configPath *string) *cobra.Command {
	var (
		video   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call <peer>",
		Short: "Offer a call to a peer and wait for the answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, *configPath, args[0], video, timeout)
		},
	}
	cmd.Flags().BoolVar(&video, "video", false, "Offer a video call instead of audio")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to ring before hanging up")
	return cmd
}

// newOffer builds a local peer connection with one transceiver per media
// kind and returns it with its offer.
func newOffer(video bool) (*webrtc.PeerConnection, webrtc.SessionDescription, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, webrtc.SessionDescription{}, err
	}
	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	if video {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	for _, k := range kinds {
		if _, err := pc.AddTransceiverFromKind(k); err != nil {
			pc.Close()
			return nil, webrtc.SessionDescription{}, err
		}
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, webrtc.SessionDescription{}, err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, webrtc.SessionDescription{}, err
	}
	return pc, offer, nil
}

func runCall(cmd *cobra.Command, configPath, peer string, video bool, timeout time.Duration) error {
	cfg, log, restore, err := setup(configPath)
	if err != nil {
		return err
	}
	defer restore()
	out := cmd.OutOrStdout()

	pc, offer, err := newOffer(video)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	defer pc.Close()

	sig := signaling.New(transport.Options{
		URL:    cfg.Signaling.URL,
		Config: cfg.Signaling.Transport,
		Logger: log,
	})
	defer sig.Disconnect()

	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			sig.SendICECandidate(peer, signaling.ICECandidatePayload{Candidate: c.ToJSON()})
		}
	})
	sig.OnAnswer(func(e signaling.AnswerEvent) {
		if e.UserID != peer {
			return
		}
		if err := pc.SetRemoteDescription(e.SDP); err != nil {
			finish(fmt.Errorf("apply answer: %w", err))
			return
		}
		fmt.Fprintf(out, "%s answered\n", peer)
		finish(nil)
	})
	sig.OnICECandidate(func(e signaling.ICECandidateEvent) {
		if e.UserID != peer {
			return
		}
		if err := pc.AddICECandidate(e.Candidate); err != nil {
			log.Warnw("add remote candidate", "error", err)
		}
	})
	sig.OnReject(func(e signaling.RejectEvent) {
		if e.UserID == peer {
			finish(fmt.Errorf("%w: rejected %s", errCallEnded, e.Reason))
		}
	})
	sig.OnHangup(func(e signaling.HangupEvent) {
		if e.UserID == peer {
			finish(fmt.Errorf("%w: hung up %s", errCallEnded, e.Reason))
		}
	})
	sig.OnError(func(err error) {
		var fatal *transport.FatalError
		if errors.As(err, &fatal) {
			finish(fatal)
		}
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := sig.Connect(ctx, cfg.Identity.Identity()); err != nil && errors.Is(err, transport.ErrEmptyUserID) {
		return err
	}

	callType := signaling.CallAudio
	if video {
		callType = signaling.CallVideo
	}
	// queued until the socket is open
	sig.SendOffer(peer, signaling.OfferPayload{SDP: offer, CallType: callType})
	fmt.Fprintf(out, "calling %s (%s)\n", peer, callType)

	ring := time.NewTimer(timeout)
	defer ring.Stop()
	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ring.C:
		sig.SendHangup(peer, "no answer")
		return fmt.Errorf("%w: no answer after %s", errCallEnded, timeout)
	case <-ctx.Done():
		sig.SendHangup(peer, "cancelled")
		return nil
	}

	// connected: stay until either side hangs up
	select {
	case err := <-done:
		if errors.Is(err, errCallEnded) {
			fmt.Fprintln(out, err)
			return nil
		}
		return err
	case <-ctx.Done():
		sig.SendHangup(peer, "caller left")
		return nil
	}
}
