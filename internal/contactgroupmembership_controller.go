package controller

import (
	"context"
	"fmt"

	"go.miloapis.com/email-provider-resend/internal/util"
	"go.miloapis.com/email-provider-resend/pkg/resend"
	notificationmiloapiscomv1alpha1 "go.miloapis.com/milo/pkg/apis/notification/v1alpha1"

	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/finalizer"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// ResendContactGroupMembershipReadyCondition is a condition that is set to true when the Resend contact group membership is ready
	ResendContactGroupMembershipReadyCondition = "ResendContactGroupMembershipReady"
	// ResendContactGroupMembershipNotCreatedReason is a reason that is set when the Resend contact group membership is not created
	ResendContactGroupMembershipNotCreatedReason = "ContactGroupMembershipNotCreated"
	// ResendContactGroupMembershipCreatedReason is a reason that is set when the Resend contact group membership is created
	ResendContactGroupMembershipCreatedReason = "ContactGroupMembershipCreated"
	// ResendContactGroupMembershipNotFinalizedReason is a reason that is set when the Resend contact group membership is not finalized
	ResendContactGroupMembershipNotFinalizedReason = "ContactGroupMembershipNotFinalized"
)

const (
	resendContactGroupMembershipFinalizerKey = "notification.miloapis.com/resend-contact-group-membership"
)

// ResendContactGroupMembershipController reconciles a ContactGroupMembership
// object. A membership materializes as a Resend contact inside the audience
// that backs the referenced contact group.
type ResendContactGroupMembershipController struct {
	Client     client.Client
	Finalizers finalizer.Finalizers
	Resend     resend.API
}

// resendContactGroupMembershipFinalizer is a finalizer for the ContactGroupMembership object
type resendContactGroupMembershipFinalizer struct {
	Client client.Client
	Resend resend.API
}

func (f *resendContactGroupMembershipFinalizer) Finalize(ctx context.Context, obj client.Object) (finalizer.Result, error) {
	log := logf.FromContext(ctx).WithValues("finalizer", "ContactGroupMembershipFinalizer", "trigger", obj.GetName())
	log.Info("Finalizing ContactGroupMembership")

	// Type assertion
	cgm, ok := obj.(*notificationmiloapiscomv1alpha1.ContactGroupMembership)
	if !ok {
		log.Error(fmt.Errorf("object is not a ContactGroupMembership"), "Failed to finalize ContactGroupMembership")
		return finalizer.Result{}, fmt.Errorf("object is not a ContactGroupMembership")
	}

	var finalizerError error

	// Get referenced resources
	contact, contactGroup, err := getReferencedResources(ctx, f.Client, cgm)
	if err != nil {
		log.Error(err, "Failed to get referenced resources")
		finalizerError = fmt.Errorf("failed to get referenced resources: %w", err)
	}

	// Remove the contact from the group audience
	if finalizerError == nil {
		err = f.removeContactFromAudience(ctx, contact, contactGroup)
		if err != nil {
			log.Error(err, "Failed to remove Resend contact from audience")
			finalizerError = fmt.Errorf("failed to remove Resend contact from audience: %w", err)
		}
	}

	// Create a copy for the patch base
	original := cgm.DeepCopy()

	if finalizerError != nil {
		oldStatus := cgm.Status.DeepCopy()

		meta.SetStatusCondition(&cgm.Status.Conditions, metav1.Condition{
			Type:               ResendContactGroupMembershipReadyCondition,
			Status:             metav1.ConditionFalse,
			Reason:             ResendContactGroupMembershipNotFinalizedReason,
			Message:            fmt.Sprintf("Failed to remove Resend contact from audience: %s", finalizerError.Error()),
			LastTransitionTime: metav1.Now(),
			ObservedGeneration: cgm.GetGeneration(),
		})

		err = util.PatchStatusIfChanged(ctx, util.StatusPatchParams{
			Client:     f.Client,
			Logger:     log,
			Object:     cgm,
			Original:   original,
			OldStatus:  oldStatus,
			NewStatus:  &cgm.Status,
			FieldOwner: "resendcontactgroupmembership-controller",
		})
		if err != nil {
			log.Error(err, "Failed to patch contactgroupmembership status in finalizer")
			finalizerError = fmt.Errorf("failed to patch contactgroupmembership status in finalizer: %w", err)
		}

		return finalizer.Result{}, finalizerError
	}

	return finalizer.Result{}, nil
}

// +kubebuilder:rbac:groups=notification.miloapis.com,resources=contactgroupmemberships,verbs=get;list;watch
// +kubebuilder:rbac:groups=notification.miloapis.com,resources=contactgroupmemberships/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=notification.miloapis.com,resources=contactgroupmemberships/finalizers,verbs=update

// Reconcile is the main function that reconciles the ContactGroupMembership object.
func (r *ResendContactGroupMembershipController) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := logf.FromContext(ctx).WithValues("controller", "ContactGroupMembershipController", "trigger", req.NamespacedName)
	log.Info("Starting reconciliation", "namespacedName", req.String(), "name", req.Name, "namespace", req.Namespace)

	// Get ContactGroupMembership
	cgm := &notificationmiloapiscomv1alpha1.ContactGroupMembership{}
	err := r.Client.Get(ctx, req.NamespacedName, cgm)
	if err != nil {
		if errors.IsNotFound(err) {
			log.Info("ContactGroupMembership not found. Probably deleted.")
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, fmt.Errorf("failed to get contactgroupmembership: %w", err)
	}

	// Run finalizers
	finalizeResult, err := r.Finalizers.Finalize(ctx, cgm)
	if err != nil {
		log.Error(err, "Failed to run finalizers for ContactGroupMembership")
		return ctrl.Result{}, fmt.Errorf("failed to run finalizers for ContactGroupMembership: %w", err)
	}
	if finalizeResult.Updated {
		log.Info("finalizer updated the contactgroupmembership object, updating API server")
		if updateErr := r.Client.Update(ctx, cgm); updateErr != nil {
			if errors.IsConflict(updateErr) {
				log.Info("Conflict updating ContactGroupMembership after finalizer update; requeuing")
				return ctrl.Result{Requeue: true}, nil
			}
			log.Error(updateErr, "Failed to update ContactGroupMembership after finalizer update")
			return ctrl.Result{}, updateErr
		}
		return ctrl.Result{}, nil
	}

	// Get Referenced resources
	contact, contactGroup, err := getReferencedResources(ctx, r.Client, cgm)
	if err != nil {
		log.Error(err, "Failed to get referenced resources")
		return ctrl.Result{}, fmt.Errorf("failed to get referenced resources: %w", err)
	}

	var reconcileError error
	oldStatus := cgm.Status.DeepCopy()
	original := cgm.DeepCopy()
	readyCond := meta.FindStatusCondition(cgm.Status.Conditions, ResendContactGroupMembershipReadyCondition)

	if readyCond == nil || readyCond.Reason == ResendContactGroupMembershipNotCreatedReason {
		log.Info("ResendContactGroupMembership creation")

		id, err := r.addContactToAudience(ctx, contact, contactGroup)
		if err != nil {
			reconcileError = err
			log.Error(err, "Failed to add contact to audience")
			meta.SetStatusCondition(&cgm.Status.Conditions, metav1.Condition{
				Type:               ResendContactGroupMembershipReadyCondition,
				Status:             metav1.ConditionFalse,
				Reason:             ResendContactGroupMembershipNotCreatedReason,
				Message:            fmt.Sprintf("Resend contact group membership not created on email provider: %s", err.Error()),
				LastTransitionTime: metav1.Now(),
				ObservedGeneration: cgm.GetGeneration(),
			})
		}

		if err == nil {
			log.Info("Resend contact group membership created")
			meta.SetStatusCondition(&cgm.Status.Conditions, metav1.Condition{
				Type:               ResendContactGroupMembershipReadyCondition,
				Status:             metav1.ConditionTrue,
				Reason:             ResendContactGroupMembershipCreatedReason,
				Message:            "Resend contact group membership created on email provider",
				LastTransitionTime: metav1.Now(),
				ObservedGeneration: cgm.GetGeneration(),
			})
			cgm.Status.Providers = []notificationmiloapiscomv1alpha1.ContactProviderStatus{
				{
					Name: resendProviderName,
					ID:   string(id),
				},
			}
		}
	}

	if err := util.PatchStatusIfChanged(ctx, util.StatusPatchParams{
		Client:     r.Client,
		Logger:     log,
		Object:     cgm,
		Original:   original,
		OldStatus:  oldStatus,
		NewStatus:  &cgm.Status,
		FieldOwner: "resendcontactgroupmembership-controller",
	}); err != nil {
		return ctrl.Result{}, err
	}

	if reconcileError != nil {
		return ctrl.Result{}, reconcileError
	}

	log.Info("Contactgroupmembership reconciled")
	return ctrl.Result{}, nil
}

// SetupWithManager sets up the controller with the Manager.
func (r *ResendContactGroupMembershipController) SetupWithManager(mgr ctrl.Manager) error {
	// Register finalizer
	r.Finalizers = finalizer.NewFinalizers()
	if err := r.Finalizers.Register(resendContactGroupMembershipFinalizerKey, &resendContactGroupMembershipFinalizer{
		Client: r.Client,
		Resend: r.Resend,
	}); err != nil {
		return fmt.Errorf("failed to register resend contact group membership finalizer: %w", err)
	}

	return ctrl.NewControllerManagedBy(mgr).
		For(&notificationmiloapiscomv1alpha1.ContactGroupMembership{}).
		Named("resendcontactgroupmembership").
		Complete(r)
}

// addContactToAudience creates the contact inside the audience that backs the
// contact group and returns the id Resend assigned. A conflict means the
// contact is already in the audience; the existing id is recovered by email.
func (r *ResendContactGroupMembershipController) addContactToAudience(ctx context.Context, c *notificationmiloapiscomv1alpha1.Contact, cg *notificationmiloapiscomv1alpha1.ContactGroup) (resend.ContactID, error) {
	log := logf.FromContext(ctx).WithValues("controller", "ResendContactGroupMembershipController", "trigger", c.Name)
	log.Info("Adding Resend contact to audience")

	audienceID, err := getAudienceID(cg)
	if err != nil {
		log.Error(err, "Failed to get Resend audience ID")
		return "", fmt.Errorf("failed to get Resend audience ID: %w", err)
	}

	// Resolve the audience first so a misconfigured contact group surfaces
	// as a clear error instead of a contact creation failure.
	if _, err := r.Resend.GetAudience(ctx, audienceID); err != nil {
		log.Error(err, "Failed to resolve Resend audience", "audienceID", audienceID)
		return "", fmt.Errorf("failed to resolve Resend audience %s: %w", audienceID, err)
	}

	data := resend.NewContactData(c.Spec.Email).
		WithFirstName(c.Spec.GivenName).
		WithLastName(c.Spec.FamilyName).
		WithUnsubscribed(false)

	id, err := r.Resend.CreateContact(ctx, audienceID, data)
	if resend.IsConflict(err) {
		log.Info("Resend contact already in audience, recovering id by email")
		return findContactIDByEmail(ctx, r.Resend, audienceID, c.Spec.Email)
	}
	if err != nil {
		log.Error(err, "Failed to add Resend contact to audience")
		return "", fmt.Errorf("failed to add Resend contact to audience: %w", err)
	}

	return id, nil
}

// removeContactFromAudience deletes the contact from the group audience by
// email, which the Resend delete endpoint accepts in place of the contact id.
func (f *resendContactGroupMembershipFinalizer) removeContactFromAudience(ctx context.Context, c *notificationmiloapiscomv1alpha1.Contact, cg *notificationmiloapiscomv1alpha1.ContactGroup) error {
	log := logf.FromContext(ctx).WithValues("controller", "ResendContactGroupMembershipController", "trigger", c.Name)
	log.Info("Removing Resend contact from audience")

	audienceID, err := getAudienceID(cg)
	if err != nil {
		log.Error(err, "Failed to get Resend audience ID")
		return fmt.Errorf("failed to get Resend audience ID: %w", err)
	}

	if err := f.Resend.DeleteContact(ctx, audienceID, c.Spec.Email); err != nil {
		if !resend.IsNotFound(err) {
			log.Error(err, "Failed to remove Resend contact from audience")
			return fmt.Errorf("failed to remove Resend contact from audience: %w", err)
		}
		log.Info("Resend contact not found in audience, probably removed already")
	}

	return nil
}

// getAudienceID returns the Resend audience backing a contact group.
func getAudienceID(cg *notificationmiloapiscomv1alpha1.ContactGroup) (resend.AudienceID, error) {
	for _, provider := range cg.Spec.Providers {
		if provider.Name == resendProviderName {
			return resend.AudienceID(provider.ID), nil
		}
	}

	return "", fmt.Errorf("audience ID not found for contact group")
}

func getReferencedResources(ctx context.Context, k8sClient client.Client, cgm *notificationmiloapiscomv1alpha1.ContactGroupMembership) (*notificationmiloapiscomv1alpha1.Contact, *notificationmiloapiscomv1alpha1.ContactGroup, error) {
	// Get Referenced Contact
	contact := &notificationmiloapiscomv1alpha1.Contact{}
	err := k8sClient.Get(ctx, client.ObjectKey{Name: cgm.Spec.ContactRef.Name, Namespace: cgm.Spec.ContactRef.Namespace}, contact)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get Contact: %w", err)
	}

	// Get Referenced ContactGroup
	contactGroup := &notificationmiloapiscomv1alpha1.ContactGroup{}
	err = k8sClient.Get(ctx, client.ObjectKey{Name: cgm.Spec.ContactGroupRef.Name, Namespace: cgm.Spec.ContactGroupRef.Namespace}, contactGroup)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get ContactGroup: %w", err)
	}

	return contact, contactGroup, nil
}
