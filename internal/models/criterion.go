package models

import (
	"fmt"
	"math"

	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

const logitEps = 1e-6

// ClassWeights derives per-class loss weights from occupancy priors.
// Rarer classes get larger weights under "sqrt_inverse" (the default) and
// "inverse"; "equal" disables weighting.
func ClassWeights(prior []float32, mode string) ([]float32, error) {
	weights := make([]float32, len(prior))
	for i, p := range prior {
		switch mode {
		case "sqrt_inverse":
			weights[i] = float32(1 / math.Sqrt(float64(p)))
		case "inverse":
			weights[i] = 1 / p
		case "equal":
			weights[i] = 1
		default:
			return nil, fmt.Errorf("models: unknown weight mode %q", mode)
		}
	}
	return weights, nil
}

// OccupancyCriterion is the default loss: class-weighted binary cross
// entropy over the visible cells, plus a small entropy term that pushes
// the model towards confident predictions.
type OccupancyCriterion[B tensor.Backend] struct {
	weights      *tensor.Tensor[float32, B] // [1, C, 1, 1]
	xentWeight   float32
	uncertWeight float32
	device       tensor.Device
	backend      B
}

func NewOccupancyCriterion[B tensor.Backend](backend B, prior []float32, xentWeight, uncertWeight float32, weightMode string) (*OccupancyCriterion[B], error) {
	weights, err := ClassWeights(prior, weightMode)
	if err != nil {
		return nil, err
	}
	t := tensor.Zeros[float32](tensor.Shape{1, len(prior), 1, 1}, backend)
	copy(t.Data(), weights)
	return &OccupancyCriterion[B]{
		weights:      t,
		xentWeight:   xentWeight,
		uncertWeight: uncertWeight,
		device:       tensor.HostDevice,
		backend:      backend,
	}, nil
}

func (c *OccupancyCriterion[B]) Loss(pred *Prediction[B], labels, mask *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	bce := binaryCrossEntropy(pred.Logits, labels).Mul(c.weights)
	loss := maskedMean(bce, mask).MulScalar(c.xentWeight)
	if c.uncertWeight != 0 {
		uncert := maskedMean(occupancyEntropy(pred.Logits), mask)
		loss = loss.Add(uncert.MulScalar(c.uncertWeight))
	}
	return loss
}

func (c *OccupancyCriterion[B]) ToDevice(d tensor.Device) {
	c.weights.Raw().ToDevice(d)
	c.device = d
}

func (c *OccupancyCriterion[B]) Device() tensor.Device { return c.device }

// VaeOccupancyCriterion extends the occupancy loss with the KL divergence
// of the ved bottleneck. Loss panics if the prediction carries no
// variational moments.
type VaeOccupancyCriterion[B tensor.Backend] struct {
	*OccupancyCriterion[B]
	kldWeight float32
}

func NewVaeOccupancyCriterion[B tensor.Backend](backend B, prior []float32, xentWeight, uncertWeight, kldWeight float32, weightMode string) (*VaeOccupancyCriterion[B], error) {
	inner, err := NewOccupancyCriterion[B](backend, prior, xentWeight, uncertWeight, weightMode)
	if err != nil {
		return nil, err
	}
	return &VaeOccupancyCriterion[B]{OccupancyCriterion: inner, kldWeight: kldWeight}, nil
}

func (c *VaeOccupancyCriterion[B]) Loss(pred *Prediction[B], labels, mask *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if pred.Mu == nil || pred.LogVar == nil {
		panic("models: vae criterion needs a prediction with Mu and LogVar")
	}
	recon := c.OccupancyCriterion.Loss(pred, labels, mask)

	// KL(q(z|x) || N(0, 1)) averaged over the batch and latent dims.
	mu, logvar := pred.Mu, pred.LogVar
	kld := logvar.AddScalar(1).
		Sub(mu.Mul(mu)).
		Sub(logvar.Exp()).
		MulScalar(-0.5 / float32(mu.NumElements())).
		Sum()
	return recon.Add(kld.MulScalar(c.kldWeight))
}

// FocalLossCriterion replaces the cross entropy with a focal loss that
// downweights well-classified cells. It closes over the two focal
// hyperparameters only; class weighting and the entropy term stay with
// the default criterion.
type FocalLossCriterion[B tensor.Backend] struct {
	alpha   float32
	gamma   float32
	device  tensor.Device
	backend B
}

func NewFocalLossCriterion[B tensor.Backend](backend B, alpha, gamma float32) *FocalLossCriterion[B] {
	return &FocalLossCriterion[B]{alpha: alpha, gamma: gamma, device: tensor.HostDevice, backend: backend}
}

func (c *FocalLossCriterion[B]) Loss(pred *Prediction[B], labels, mask *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	p := pred.Logits.Sigmoid()
	notLabels := labels.MulScalar(-1).AddScalar(1)

	// pt is the probability assigned to the true label.
	pt := p.Mul(labels).Add(p.MulScalar(-1).AddScalar(1).Mul(notLabels))
	alphaT := labels.MulScalar(c.alpha).Add(notLabels.MulScalar(1 - c.alpha))

	// (1-pt)^gamma via exp(gamma * log(1-pt)).
	modulator := pt.MulScalar(-1).AddScalar(1 + logitEps).Log().MulScalar(c.gamma).Exp()
	focal := pt.AddScalar(logitEps).Log().MulScalar(-1).Mul(alphaT).Mul(modulator)

	return maskedMean(focal, mask)
}

func (c *FocalLossCriterion[B]) ToDevice(d tensor.Device) { c.device = d }

func (c *FocalLossCriterion[B]) Device() tensor.Device { return c.device }

// PriorOffsetCriterion shifts the logits by each class's prior log odds
// before the cross entropy, so the model learns deviations from the base
// rates rather than the rates themselves.
type PriorOffsetCriterion[B tensor.Backend] struct {
	offsets *tensor.Tensor[float32, B] // [1, C, 1, 1]
	device  tensor.Device
	backend B
}

func NewPriorOffsetCriterion[B tensor.Backend](backend B, prior []float32) *PriorOffsetCriterion[B] {
	t := tensor.Zeros[float32](tensor.Shape{1, len(prior), 1, 1}, backend)
	data := t.Data()
	for i, p := range prior {
		data[i] = float32(math.Log(float64(p) / float64(1-p)))
	}
	return &PriorOffsetCriterion[B]{offsets: t, device: tensor.HostDevice, backend: backend}
}

func (c *PriorOffsetCriterion[B]) Loss(pred *Prediction[B], labels, mask *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shifted := pred.Logits.Add(c.offsets)
	return maskedMean(binaryCrossEntropy(shifted, labels), mask)
}

func (c *PriorOffsetCriterion[B]) ToDevice(d tensor.Device) {
	c.offsets.Raw().ToDevice(d)
	c.device = d
}

func (c *PriorOffsetCriterion[B]) Device() tensor.Device { return c.device }

// binaryCrossEntropy computes the element-wise BCE of logits against
// binary labels.
func binaryCrossEntropy[B tensor.Backend](logits, labels *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	p := logits.Sigmoid()
	pos := p.AddScalar(logitEps).Log().Mul(labels)
	neg := p.MulScalar(-1).AddScalar(1 + logitEps).Log().Mul(labels.MulScalar(-1).AddScalar(1))
	return pos.Add(neg).MulScalar(-1)
}

// occupancyEntropy computes the element-wise Bernoulli entropy of the
// predicted occupancy probabilities.
func occupancyEntropy[B tensor.Backend](logits *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	p := logits.Sigmoid()
	q := p.MulScalar(-1).AddScalar(1)
	return p.Mul(p.AddScalar(logitEps).Log()).
		Add(q.Mul(q.AddScalar(logitEps).Log())).
		MulScalar(-1)
}

// maskedMean averages x over the cells where mask is one. The mask has a
// single channel and broadcasts over the class axis of x.
func maskedMean[B tensor.Backend](x, mask *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	classes := float32(x.Shape()[1])
	total := x.Mul(mask).Sum()
	count := mask.Sum().MulScalar(classes).AddScalar(logitEps)
	return total.Div(count)
}
